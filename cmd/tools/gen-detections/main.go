// Command gen-detections writes a synthetic, reproducible detection
// sequence as JSONL for exercising pitchtrack.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"

	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
)

// Params controls the generated scene. Coordinates are pixels in a
// frame of Width x Height.
type Params struct {
	Frames       int
	Players      int
	Width        float64
	Height       float64
	Noise        float64 // Std-dev of box jitter in pixels
	MissRate     float64 // Per-detection probability of a dropped box
	OcclusionLen int     // Length of one occlusion gap per player, 0 disables
	Spurious     float64 // Expected spurious boxes per frame
	EmbeddingDim int
	Seed         uint64
}

type player struct {
	box       l1detections.Box
	vx, vy    float64
	embedding []float64
	occStart  int
}

// Generate returns the frames for p. The same Params always produce the
// same frames.
func Generate(p Params) []l1detections.Frame {
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))

	players := make([]player, p.Players)
	for i := range players {
		h := 40 + rng.Float64()*30
		players[i] = player{
			box: l1detections.Box{
				X:      rng.Float64() * (p.Width - h/2),
				Y:      rng.Float64() * (p.Height - h),
				Width:  h / 2,
				Height: h,
			},
			vx:        (rng.Float64()*2 - 1) * 4,
			vy:        (rng.Float64()*2 - 1) * 2,
			embedding: unitVector(rng, p.EmbeddingDim),
			occStart:  -1,
		}
		if p.OcclusionLen > 0 && p.Frames > p.OcclusionLen+2 {
			players[i].occStart = 1 + rng.IntN(p.Frames-p.OcclusionLen-1)
		}
	}

	frames := make([]l1detections.Frame, p.Frames)
	for f := range frames {
		frames[f].Index = int64(f)
		dets := []l1detections.Detection{}
		for i := range players {
			pl := &players[i]
			if f > 0 {
				pl.box.X += pl.vx
				pl.box.Y += pl.vy
				bounce(&pl.box, &pl.vx, &pl.vy, p.Width, p.Height)
			}
			if pl.occStart >= 0 && f >= pl.occStart && f < pl.occStart+p.OcclusionLen {
				continue
			}
			if rng.Float64() < p.MissRate {
				continue
			}
			b := pl.box
			b.X += rng.NormFloat64() * p.Noise
			b.Y += rng.NormFloat64() * p.Noise
			dets = append(dets, l1detections.Detection{
				Box:       b,
				Score:     0.6 + rng.Float64()*0.4,
				Class:     "player",
				Embedding: jitter(rng, pl.embedding, 0.05),
			})
		}
		for n := poisson(rng, p.Spurious); n > 0; n-- {
			dets = append(dets, l1detections.Detection{
				Box: l1detections.Box{
					X:      rng.Float64() * p.Width,
					Y:      rng.Float64() * p.Height,
					Width:  5 + rng.Float64()*40,
					Height: 5 + rng.Float64()*40,
				},
				Score:     0.3 + rng.Float64()*0.5,
				Class:     "player",
				Embedding: unitVector(rng, p.EmbeddingDim),
			})
		}
		rng.Shuffle(len(dets), func(i, j int) { dets[i], dets[j] = dets[j], dets[i] })
		frames[f].Detections = dets
	}
	return frames
}

func bounce(b *l1detections.Box, vx, vy *float64, w, h float64) {
	if b.X < 0 || b.X+b.Width > w {
		*vx = -*vx
		b.X = math.Max(0, math.Min(b.X, w-b.Width))
	}
	if b.Y < 0 || b.Y+b.Height > h {
		*vy = -*vy
		b.Y = math.Max(0, math.Min(b.Y, h-b.Height))
	}
}

func unitVector(rng *rand.Rand, dim int) []float64 {
	if dim <= 0 {
		return nil
	}
	v := make([]float64, dim)
	var norm float64
	for i := range v {
		v[i] = rng.NormFloat64()
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}

func jitter(rng *rand.Rand, base []float64, sigma float64) []float64 {
	if len(base) == 0 {
		return nil
	}
	v := make([]float64, len(base))
	for i, x := range base {
		v[i] = x + rng.NormFloat64()*sigma
	}
	return v
}

// poisson draws from a Poisson distribution with mean lambda (Knuth).
func poisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	l := math.Exp(-lambda)
	k, p := 0, 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

func write(w io.Writer, frames []l1detections.Frame) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			return fmt.Errorf("encode frame %d: %w", f.Index, err)
		}
	}
	return bw.Flush()
}

func main() {
	output := flag.String("o", "-", "output path, - for stdout")
	p := Params{}
	flag.IntVar(&p.Frames, "n", 300, "number of frames")
	flag.IntVar(&p.Players, "players", 10, "number of players")
	flag.Float64Var(&p.Width, "width", 1920, "frame width in pixels")
	flag.Float64Var(&p.Height, "height", 1080, "frame height in pixels")
	flag.Float64Var(&p.Noise, "noise", 1.5, "box jitter std-dev in pixels")
	flag.Float64Var(&p.MissRate, "miss-rate", 0.02, "probability a player's box is dropped in a frame")
	flag.IntVar(&p.OcclusionLen, "occlusion", 10, "frames of one occlusion gap per player (0 disables)")
	flag.Float64Var(&p.Spurious, "spurious", 0.5, "expected spurious boxes per frame")
	flag.IntVar(&p.EmbeddingDim, "embedding-dim", 0, "appearance embedding length (0 omits embeddings)")
	flag.Uint64Var(&p.Seed, "seed", 1, "random seed")
	flag.Parse()

	if p.Frames <= 0 || p.Players < 0 {
		log.Fatal("-n must be positive and -players non-negative")
	}

	frames := Generate(p)
	var w io.Writer = os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("create output: %v", err)
		}
		defer f.Close()
		w = f
	}
	if err := write(w, frames); err != nil {
		log.Fatalf("write detections: %v", err)
	}
	if *output != "-" {
		log.Printf("wrote %d frames for %d players to %s", len(frames), p.Players, *output)
	}
}
