package main

import (
	"crypto/rand"
	"encoding/hex"
	"math"
	"math/big"

	"github.com/google/uuid"
)

const (
	lobbyCodeLen   = 5
	lobbyCodeChars = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateID returns a random hex string of the given byte length
func GenerateID(byteLen int) string {
	b := make([]byte, byteLen)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GenerateUUID returns a random (v4) UUID string
func GenerateUUID() string {
	return uuid.New().String()
}

// GenerateCode returns n characters drawn uniformly from [a-z0-9]
func GenerateCode(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(lobbyCodeChars)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		b[i] = lobbyCodeChars[idx.Int64()]
	}
	return string(b)
}

// Clamp restricts v to [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// NormalizeAngle wraps angle to [-PI, PI]. NaN and infinities become 0.
func NormalizeAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	return math.Remainder(a, 2*math.Pi)
}
