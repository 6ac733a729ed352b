// Package signature assina e verifica o corpo dos webhooks.
//
// O material assinado é "{timestamp}.{payload}", então o timestamp não pode ser
// trocado sem invalidar a assinatura.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"time"
)

const (
	Prefix = "sha256="

	// ReplayWindow é a idade máxima aceita para um timestamp assinado.
	ReplayWindow = 5 * time.Minute
)

var headerPattern = regexp.MustCompile(`^sha256=[0-9a-f]{64}$`)

// Sign retorna o valor do header de assinatura: "sha256=" + hex minúsculo.
func Sign(payload []byte, tsMillis int64, secret string) string {
	return Prefix + hex.EncodeToString(compute(payload, tsMillis, secret))
}

// Verify valida formato, janela de replay e HMAC (comparação em tempo constante).
func Verify(payload []byte, tsMillis int64, header, secret string, now time.Time) bool {
	if !headerPattern.MatchString(header) {
		return false
	}
	if now.UnixMilli()-tsMillis > ReplayWindow.Milliseconds() {
		return false
	}
	got, err := hex.DecodeString(header[len(Prefix):])
	if err != nil {
		return false
	}
	return hmac.Equal(got, compute(payload, tsMillis, secret))
}

func compute(payload []byte, tsMillis int64, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(tsMillis, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return mac.Sum(nil)
}
