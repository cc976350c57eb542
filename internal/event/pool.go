package event

import (
	"sync"
)

// envelopePool recycles frame envelopes between the reader and the loop.
//
// Usage:
//
//	env := AcquireEnvelope()
//	if err := Parse(raw, env); err != nil { ... }
//	registry.Dispatch(env)
//	ReleaseEnvelope(env) // handlers must not retain env past Dispatch
var envelopePool = sync.Pool{
	New: func() interface{} {
		return &Envelope{}
	},
}

// AcquireEnvelope gets an Envelope from the pool.
// The returned envelope has zero values except for a reusable payload buffer.
func AcquireEnvelope() *Envelope {
	return envelopePool.Get().(*Envelope)
}

// ReleaseEnvelope returns an Envelope to the pool.
func ReleaseEnvelope(env *Envelope) {
	if env == nil {
		return
	}
	env.Type = ""
	env.Symbol = ""
	env.Payload = env.Payload[:0]

	envelopePool.Put(env)
}

// Warmup pre-allocates envelopes to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	envs := make([]*Envelope, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		envs = append(envs, AcquireEnvelope())
	}
	for _, env := range envs {
		ReleaseEnvelope(env)
	}
}
