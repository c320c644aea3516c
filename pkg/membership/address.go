package membership

import (
	"fmt"
	"strconv"
	"strings"
)

// SiloAddress identifies one silo process: its endpoint plus a generation
// that distinguishes restarts on the same endpoint.
type SiloAddress struct {
	Host       string
	Port       int
	Generation int32
}

// NewSiloAddress builds an address
func NewSiloAddress(host string, port int, generation int32) SiloAddress {
	return SiloAddress{Host: host, Port: port, Generation: generation}
}

// ToParsableString renders the address as host:port@generation. This form
// is part of every membership document key.
func (a SiloAddress) ToParsableString() string {
	return a.Host + ":" + strconv.Itoa(a.Port) + "@" + strconv.FormatInt(int64(a.Generation), 10)
}

// Endpoint returns host:port
func (a SiloAddress) Endpoint() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}

func (a SiloAddress) String() string {
	return a.ToParsableString()
}

// IsZero reports whether a is the zero address
func (a SiloAddress) IsZero() bool {
	return a == SiloAddress{}
}

// ParseSiloAddress parses the output of ToParsableString. The host may
// itself contain colons (IPv6); the port is taken after the last one.
func ParseSiloAddress(s string) (SiloAddress, error) {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return SiloAddress{}, fmt.Errorf("%w: %q has no generation", ErrInvalidSiloAddress, s)
	}
	endpoint, gen := s[:at], s[at+1:]

	colon := strings.LastIndexByte(endpoint, ':')
	if colon <= 0 {
		return SiloAddress{}, fmt.Errorf("%w: %q has no port", ErrInvalidSiloAddress, s)
	}
	host, port := endpoint[:colon], endpoint[colon+1:]
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return SiloAddress{}, fmt.Errorf("%w: bad port in %q", ErrInvalidSiloAddress, s)
	}
	g, err := strconv.ParseInt(gen, 10, 32)
	if err != nil {
		return SiloAddress{}, fmt.Errorf("%w: bad generation in %q", ErrInvalidSiloAddress, s)
	}
	return SiloAddress{Host: host, Port: p, Generation: int32(g)}, nil
}

// MarshalText stores the address in documents as its parsable string
func (a SiloAddress) MarshalText() ([]byte, error) {
	return []byte(a.ToParsableString()), nil
}

func (a *SiloAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseSiloAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
