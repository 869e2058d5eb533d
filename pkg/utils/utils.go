package utils

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const hexCharset = "0123456789abcdef"

// StoreAddress is the sink address purchases are sent to. Nothing is ever credited to it.
const StoreAddress = "0x0000000000000000000000000000000000000000"

var phraseWords = []string{
	"abandon", "ability", "able", "about", "above", "absent", "absorb", "abstract",
	"absurd", "abuse", "access", "accident", "account", "accuse", "achieve", "acid",
	"acoustic", "acquire", "across", "act", "action", "actor", "actual", "adapt",
	"add", "addict", "address", "adjust", "admit", "adult", "advance", "advice",
}

// Generator produces the cosmetic identity artifacts of the ledger: wallet
// addresses, transaction hashes and recovery phrases. It is NOT a source of
// cryptographic randomness.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator returns a generator seeded from the wall clock.
func NewGenerator() *Generator {
	return NewSeededGenerator(time.Now().UnixNano())
}

// NewSeededGenerator returns a deterministic generator, useful in tests.
func NewSeededGenerator(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

func (g *Generator) hex(length int) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	b.Grow(length + 2)
	b.WriteString("0x")
	for i := 0; i < length; i++ {
		b.WriteByte(hexCharset[g.rnd.Intn(len(hexCharset))])
	}
	return b.String()
}

// GenerateAddress returns "0x" followed by 40 lowercase hex characters.
func (g *Generator) GenerateAddress() string {
	return g.hex(40)
}

// GenerateTxHash returns "0x" followed by 64 lowercase hex characters.
func (g *Generator) GenerateTxHash() string {
	return g.hex(64)
}

// GenerateRecoveryPhrase draws 12 words, repetition allowed. There is no checksum.
func (g *Generator) GenerateRecoveryPhrase() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	words := make([]string, 12)
	for i := range words {
		words[i] = phraseWords[g.rnd.Intn(len(phraseWords))]
	}
	return strings.Join(words, " ")
}

// Intn exposes the generator's source for the cosmetic block simulation.
func (g *Generator) Intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (g *Generator) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64()
}

// GenerateTransactionID generates a time-ordered transaction ID.
func GenerateTransactionID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// GetCurrentTimestamp returns the current timestamp in RFC3339 format.
func GetCurrentTimestamp() string {
	return time.Now().Format(time.RFC3339)
}
