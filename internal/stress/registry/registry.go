// Package registry holds the value generators used to populate fields of generated rows.
// A Registry is built before a run starts and only read while it runs.
package registry

import (
	"math/rand"
	"strconv"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/common/stresserrors"
)

// Generator produces field values. rnd belongs to the calling thread.
type Generator interface {
	Generate(rnd *rand.Rand) []byte
}

type GeneratorFunc func(rnd *rand.Rand) []byte

func (f GeneratorFunc) Generate(rnd *rand.Rand) []byte {
	return f(rnd)
}

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomText generates alphanumeric values of exactly size bytes.
func RandomText(size int) Generator {
	return GeneratorFunc(func(rnd *rand.Rand) []byte {
		b := make([]byte, size)
		for i := range b {
			b[i] = alphabet[rnd.Intn(len(alphabet))]
		}
		return b
	})
}

// RandomInt generates decimal integers in [min, max).
func RandomInt(min, max int64) Generator {
	return GeneratorFunc(func(rnd *rand.Rand) []byte {
		return []byte(strconv.FormatInt(min+rnd.Int63n(max-min), 10))
	})
}

type Registry struct {
	generators map[string]Generator
}

func New() *Registry {
	return &Registry{generators: map[string]Generator{}}
}

// Register binds gen to table.field, replacing any earlier binding.
func (r *Registry) Register(table, field string, gen Generator) {
	r.generators[key(table, field)] = gen
}

func (r *Registry) Lookup(table, field string) (Generator, error) {
	gen, ok := r.generators[key(table, field)]
	if !ok {
		return nil, stresserrors.InvalidArgument("field", key(table, field), "no generator registered")
	}
	return gen, nil
}

// Fields lists the registered table.field names in order.
func (r *Registry) Fields() []string {
	fields := maps.Keys(r.generators)
	slices.Sort(fields)
	return fields
}

func key(table, field string) string {
	return table + "." + field
}
