package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/soteria-mail/soteria/alias"
	"github.com/soteria-mail/soteria/audit"
	"github.com/soteria-mail/soteria/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "generate-alias":
		handleGenerateAlias()
	case "verify-alias":
		handleVerifyAlias()
	case "list-audit":
		handleListAudit()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`Soteria Admin Tool

Usage:
  soteria-admin <command> [options]

Commands:
  generate-alias  Mint a new alias address bound to a correspondent domain
  verify-alias    Check an alias address or local part for authenticity
  list-audit      Show recent classification verdicts from the audit trail
  help            Show this help message

Examples:
  soteria-admin generate-alias --other-domain github.com
  soteria-admin generate-alias --other-domain github.com --own-domain own.example
  soteria-admin verify-alias --alias github-abc123@own.example --sender noreply@github.com
  soteria-admin list-audit --limit 20

Use 'soteria-admin <command> --help' for more information about a command.
`)
}

// loadConfig loads the TOML configuration for admin operations.
func loadConfig(path string) config.Config {
	cfg := config.NewDefaultConfig()
	if err := config.Load(path, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newCodec(cfg config.Config) *alias.Codec {
	codec, err := alias.NewCodec(cfg.Encryption.Key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize alias codec: %v\n", err)
		os.Exit(1)
	}
	return codec
}

func handleGenerateAlias() {
	fs := flag.NewFlagSet("generate-alias", flag.ExitOnError)

	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	otherDomain := fs.String("other-domain", "", "Domain of the correspondent the alias is handed to (empty mints an unbound alias)")
	ownDomain := fs.String("own-domain", "", "Own catchall domain to mint the alias at (default: first configured domain)")

	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)
	codec := newCodec(cfg)

	domain := *ownDomain
	if domain == "" {
		if len(cfg.User.OwnDomains) == 0 {
			fmt.Fprintln(os.Stderr, "No own domains configured; pass --own-domain")
			os.Exit(1)
		}
		domain = cfg.User.OwnDomains[0]
	}

	address, err := codec.GenerateAddress(*otherDomain, domain)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate alias: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(address)
}

func handleVerifyAlias() {
	fs := flag.NewFlagSet("verify-alias", flag.ExitOnError)

	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	aliasArg := fs.String("alias", "", "Alias address or bare local part to verify (required)")
	sender := fs.String("sender", "", "Sender address or domain to check the binding against (optional)")

	fs.Parse(os.Args[2:])

	if *aliasArg == "" {
		fmt.Fprintln(os.Stderr, "--alias is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	codec := newCodec(cfg)

	localPart := *aliasArg
	if at := strings.IndexByte(localPart, '@'); at >= 0 {
		localPart = localPart[:at]
	}

	result := codec.Verify(localPart)
	fmt.Printf("Result:    %s\n", result.Kind)
	if result.Reason != "" {
		fmt.Printf("Reason:    %s\n", result.Reason)
	}
	if result.Kind == alias.Authentic {
		binding := result.BoundTag
		if binding == "" {
			binding = "(unbound)"
		}
		fmt.Printf("Binding:   %s\n", binding)
		if !result.GeneratedAt.IsZero() {
			fmt.Printf("Generated: %s\n", result.GeneratedAt.Format("2006-01-02"))
		}
		if *sender != "" {
			senderDomain := *sender
			if at := strings.IndexByte(senderDomain, '@'); at >= 0 {
				senderDomain = senderDomain[at+1:]
			}
			if result.BindingMatches(senderDomain) {
				fmt.Printf("Sender:    %s (binding matches)\n", senderDomain)
			} else {
				fmt.Printf("Sender:    %s (binding MISMATCH)\n", senderDomain)
			}
		}
	}

	if result.Kind != alias.Authentic {
		os.Exit(1)
	}
}

func handleListAudit() {
	fs := flag.NewFlagSet("list-audit", flag.ExitOnError)

	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	limit := fs.Int("limit", 50, "Maximum number of entries to show")

	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)
	if cfg.Audit.Path == "" {
		fmt.Fprintln(os.Stderr, "No audit.path configured")
		os.Exit(1)
	}

	store, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open audit trail: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	entries, err := store.List(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list audit entries: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries recorded.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED\tDISPOSITION\tALIAS\tSENDER\tALIAS RESULT\tSPF\tDKIM\tDMARC\tTLS")
	for _, e := range entries {
		tls := "no"
		if e.TransportSecure {
			tls = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.RecordedAt.Format("2006-01-02 15:04:05"),
			e.Disposition, e.Alias, e.Sender, e.AliasResult,
			e.SPF, e.DKIM, e.DMARC, tls)
	}
	w.Flush()
}
