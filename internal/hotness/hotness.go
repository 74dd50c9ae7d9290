// Package hotness scores how often keys are touched, decaying over time.
package hotness

type Interface interface {
	Inc(key string)
	Score(key string) float64
	Reset(keys ...string)
}
