// Package hotness tracks how often each commune is requested.
package hotness

type Interface interface {
	Inc(region string)
	Score(region string) float64
	Reset(regions ...string)
}
