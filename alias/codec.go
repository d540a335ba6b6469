// Package alias implements the stateless authenticity codec for catchall
// alias local-parts.
//
// An alias carries its own proof of origin: a keyed BLAKE3 tag over a small
// versioned payload, verifiable against the shared secret alone. No registry
// of issued aliases exists anywhere; an alias is either decodable and
// authentic, or it is rejected. The local-part layout is
//
//	[tag "-"] base32hex(body)
//	body = version(1) || date(4) || random(5) || mac(10)
//
// where tag is the optional domain binding (the registrable label of the
// domain the alias was minted for) and date is the generation day encoded
// as a big-endian YYYYMMDD integer. The tag travels in clear but is bound
// by the MAC, so it cannot be swapped without invalidating the alias.
// Base32hex is used lowercase and unpadded because local-parts are
// case-insensitive in practice.
package alias

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
	"lukechampine.com/blake3"

	"github.com/soteria-mail/soteria/helpers"
)

// Version is the wire format version marker, the first payload byte.
// Future scheme revisions bump this so old verifiers report them as
// malformed instead of forged.
const Version byte = '1'

const (
	// KeyLength is the required length of the shared secret.
	KeyLength = 32

	dateLen   = 4
	randomLen = 5
	macLen    = 10
	bodyLen   = 1 + dateLen + randomLen + macLen

	macKeyInfo = "soteria-alias-mac-v1"
)

// encoding is base32hex without padding. Encoded aliases are lowercased;
// decoding uppercases first, making verification case-insensitive.
var encoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// ResultKind classifies the outcome of verifying a local-part.
type ResultKind int

const (
	// Malformed means the local-part could not be decoded into a payload
	// and tag at all. No authenticity check was possible.
	Malformed ResultKind = iota
	// Forged means the local-part decoded but the authenticity tag does
	// not match the shared secret.
	Forged
	// Authentic means the alias was produced by a holder of the shared
	// secret.
	Authentic
)

func (k ResultKind) String() string {
	switch k {
	case Authentic:
		return "authentic"
	case Forged:
		return "forged"
	default:
		return "malformed"
	}
}

// Result is the outcome of verifying an alias local-part.
type Result struct {
	Kind ResultKind

	// BoundTag is the domain label the alias is restricted to. Empty on
	// authentic aliases means any sender domain is accepted. Only set
	// when Kind is Authentic.
	BoundTag string

	// GeneratedAt is the day the alias was minted, carried inside the
	// authenticated payload. Zero unless Kind is Authentic.
	GeneratedAt time.Time

	// Reason is a short diagnostic for non-authentic results, intended
	// for logs and the audit trail, never for control flow.
	Reason string
}

// BindingMatches reports whether the alias' domain binding admits the
// given sender domain. Unbound aliases match any sender.
func (r Result) BindingMatches(senderDomain string) bool {
	if r.BoundTag == "" {
		return true
	}
	return helpers.DomainHasLabel(senderDomain, r.BoundTag)
}

// Codec encodes and verifies alias local-parts against a shared secret.
// A Codec is immutable after construction and safe for concurrent use.
type Codec struct {
	macKey [KeyLength]byte
}

// NewCodec derives the MAC key from the shared secret. The secret must be
// exactly KeyLength characters; anything else is a configuration error
// that must stop the process before any message is classified.
func NewCodec(secret string) (*Codec, error) {
	if len(secret) != KeyLength {
		return nil, fmt.Errorf("shared secret must be exactly %d characters, got %d", KeyLength, len(secret))
	}
	c := &Codec{}
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(macKeyInfo))
	if _, err := io.ReadFull(kdf, c.macKey[:]); err != nil {
		return nil, fmt.Errorf("derive mac key: %w", err)
	}
	return c, nil
}

// Generate mints a fresh alias local-part bound to otherDomain. An empty
// otherDomain produces an unbound alias that accepts any sender.
func (c *Codec) Generate(otherDomain string) (string, error) {
	tag := ""
	if otherDomain != "" {
		tag = helpers.RegistrableLabel(otherDomain)
	}

	body := make([]byte, bodyLen)
	body[0] = Version
	binary.BigEndian.PutUint32(body[1:1+dateLen], dateInt(time.Now().UTC()))
	if _, err := rand.Read(body[1+dateLen : 1+dateLen+randomLen]); err != nil {
		return "", fmt.Errorf("generate random part: %w", err)
	}
	copy(body[bodyLen-macLen:], c.computeMAC(body[:bodyLen-macLen], tag))

	encoded := strings.ToLower(encoding.EncodeToString(body))
	if tag == "" {
		return encoded, nil
	}
	return tag + "-" + encoded, nil
}

// GenerateAddress mints a bound alias and returns it as a full address at
// ownDomain.
func (c *Codec) GenerateAddress(otherDomain, ownDomain string) (string, error) {
	localPart, err := c.Generate(otherDomain)
	if err != nil {
		return "", err
	}
	return localPart + "@" + ownDomain, nil
}

// Verify decides whether localPart was minted with the shared secret.
// It never fails on arbitrary input: every byte string maps onto exactly
// one of Malformed, Forged or Authentic.
func (c *Codec) Verify(localPart string) Result {
	if localPart == "" {
		return Result{Kind: Malformed, Reason: "empty local part"}
	}

	// The encoded body never contains '-', so the last dash separates an
	// optional binding tag (which itself may contain dashes).
	tag := ""
	encoded := localPart
	if idx := strings.LastIndex(localPart, "-"); idx >= 0 {
		tag = strings.ToLower(localPart[:idx])
		encoded = localPart[idx+1:]
	}

	body, err := encoding.DecodeString(strings.ToUpper(encoded))
	if err != nil {
		return Result{Kind: Malformed, Reason: "undecodable local part"}
	}
	if len(body) != bodyLen {
		return Result{Kind: Malformed, Reason: fmt.Sprintf("payload is %d bytes, want %d", len(body), bodyLen)}
	}
	if body[0] != Version {
		return Result{Kind: Malformed, Reason: fmt.Sprintf("unsupported version %q", body[0])}
	}

	expected := c.computeMAC(body[:bodyLen-macLen], tag)
	if subtle.ConstantTimeCompare(body[bodyLen-macLen:], expected) != 1 {
		return Result{Kind: Forged, Reason: "authenticity tag mismatch"}
	}

	return Result{
		Kind:        Authentic,
		BoundTag:    tag,
		GeneratedAt: dateFromInt(binary.BigEndian.Uint32(body[1 : 1+dateLen])),
	}
}

// computeMAC computes the truncated keyed BLAKE3 tag over the payload
// prefix and the binding tag.
func (c *Codec) computeMAC(prefix []byte, tag string) []byte {
	h := blake3.New(macLen, c.macKey[:])
	h.Write(prefix)
	h.Write([]byte(tag))
	return h.Sum(nil)
}

func dateInt(t time.Time) uint32 {
	return uint32(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

func dateFromInt(d uint32) time.Time {
	year := int(d / 10000)
	month := int(d/100) % 100
	day := int(d % 100)
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
