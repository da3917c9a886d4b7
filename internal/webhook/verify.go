package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Verifier checks `t=<unix>,v1=<hex>` signature headers. The signed message
// is the timestamp, a dot, and the raw request body.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier. A zero tolerance disables the timestamp
// freshness check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool { return len(v.secret) > 0 }

// Verify returns nil when header carries a valid signature for body. Any v1
// value may match, which allows secret rotation on the provider side.
func (v *Verifier) Verify(body []byte, header string) error {
	if strings.TrimSpace(header) == "" {
		return fmt.Errorf("%w: header missing", ErrInvalidSignature)
	}

	var ts string
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sig, err := hex.DecodeString(val)
			if err != nil {
				return fmt.Errorf("%w: signature is not hex", ErrInvalidSignature)
			}
			sigs = append(sigs, sig)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: timestamp or signature missing", ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp is not an integer", ErrInvalidSignature)
	}

	expected := computeMAC(v.secret, ts, body)
	matched := false
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			matched = true
		}
	}
	if !matched {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(unix, 0))
		if age < 0 {
			age = -age
		}
		if age > v.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}
	return nil
}

func computeMAC(secret []byte, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns a header value for body signed at ts. Used by tests and by
// internal tools that replay events.
func Sign(secret string, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(computeMAC([]byte(secret), t, body))
}
