package l3motion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
)

const (
	ndim = 4
	sdim = 2 * ndim
)

// Filter errors. On error the state passed in is left untouched.
var (
	ErrSingularCovariance    = errors.New("innovation covariance is not positive definite")
	ErrNonFinite             = errors.New("filter produced non-finite state")
	ErrDegenerateObservation = errors.New("observation has non-finite coordinates")
)

// Config holds the noise model and numeric guards.
type Config struct {
	StdWeightPosition float64 // Position noise, scaled by box height
	StdWeightVelocity float64 // Velocity noise, scaled by box height
	MaxCovarianceDiag float64 // Upper bound on every covariance diagonal entry
	MinHeight         float64 // Height floor for predictions and observations
	MinAspect         float64 // Aspect floor for predictions and observations
}

// DefaultConfig returns the usual box-tracking noise weights.
func DefaultConfig() Config {
	return Config{
		StdWeightPosition: 1.0 / 20,
		StdWeightVelocity: 1.0 / 160,
		MaxCovarianceDiag: 1e4,
		MinHeight:         1,
		MinAspect:         1e-3,
	}
}

// Validate checks that all weights and guards are positive.
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"std_weight_position", c.StdWeightPosition},
		{"std_weight_velocity", c.StdWeightVelocity},
		{"max_covariance_diag", c.MaxCovarianceDiag},
		{"min_height", c.MinHeight},
		{"min_aspect", c.MinAspect},
	} {
		if !(f.v > 0) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s must be positive and finite, got %g", f.name, f.v)
		}
	}
	return nil
}

// State is the filter state: mean [cx, cy, a, h, vcx, vcy, va, vh] and the
// row-major 8x8 covariance.
type State struct {
	Mean [sdim]float64
	Cov  [sdim * sdim]float64
}

// Filter is a constant-velocity Kalman filter with a one-frame time step.
// A Filter holds no per-track state and may be shared by all tracks of a
// tracker.
type Filter struct {
	cfg    Config
	motion *mat.Dense // F, 8x8
	update *mat.Dense // H, 4x8
	eye    *mat.Dense
}

// NewFilter builds a Filter. Zero-valued config fields take defaults.
func NewFilter(cfg Config) *Filter {
	def := DefaultConfig()
	if cfg.StdWeightPosition <= 0 {
		cfg.StdWeightPosition = def.StdWeightPosition
	}
	if cfg.StdWeightVelocity <= 0 {
		cfg.StdWeightVelocity = def.StdWeightVelocity
	}
	if cfg.MaxCovarianceDiag <= 0 {
		cfg.MaxCovarianceDiag = def.MaxCovarianceDiag
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = def.MinHeight
	}
	if cfg.MinAspect <= 0 {
		cfg.MinAspect = def.MinAspect
	}

	motion := mat.NewDense(sdim, sdim, nil)
	update := mat.NewDense(ndim, sdim, nil)
	eye := mat.NewDense(sdim, sdim, nil)
	for i := 0; i < sdim; i++ {
		motion.Set(i, i, 1)
		eye.Set(i, i, 1)
		if i < ndim {
			motion.Set(i, ndim+i, 1)
			update.Set(i, i, 1)
		}
	}
	return &Filter{cfg: cfg, motion: motion, update: update, eye: eye}
}

// Config returns the effective configuration.
func (f *Filter) Config() Config { return f.cfg }

// Initiate creates a state from an unassociated observation. Velocities
// start at zero.
func (f *Filter) Initiate(box l1detections.Box) (State, error) {
	z, err := f.measurement(box)
	if err != nil {
		return State{}, err
	}
	var s State
	copy(s.Mean[:ndim], z[:])
	f.setInitialCovariance(&s, z[3])
	return s, nil
}

// ResetCovariance replaces the covariance with the initiation covariance
// for the current height. The mean is kept.
func (f *Filter) ResetCovariance(s *State) {
	f.setInitialCovariance(s, f.height(s.Mean[3]))
}

func (f *Filter) setInitialCovariance(s *State, h float64) {
	sp, sv := f.cfg.StdWeightPosition*h, f.cfg.StdWeightVelocity*h
	std := [sdim]float64{2 * sp, 2 * sp, 1e-2, 2 * sp, 10 * sv, 10 * sv, 1e-5, 10 * sv}
	s.Cov = [sdim * sdim]float64{}
	for i, v := range std {
		s.Cov[i*sdim+i] = v * v
	}
	f.condition(s)
}

// Predict advances the state by one frame and returns the predicted box.
func (f *Filter) Predict(s *State) (l1detections.Box, error) {
	h := f.height(s.Mean[3])
	sp, sv := f.cfg.StdWeightPosition*h, f.cfg.StdWeightVelocity*h
	q := [sdim]float64{sp, sp, 1e-2, sp, sv, sv, 1e-5, sv}

	x := mat.NewVecDense(sdim, append([]float64(nil), s.Mean[:]...))
	p := mat.NewDense(sdim, sdim, append([]float64(nil), s.Cov[:]...))

	var xPred mat.VecDense
	xPred.MulVec(f.motion, x)

	var fp, pPred mat.Dense
	fp.Mul(f.motion, p)
	pPred.Mul(&fp, f.motion.T())
	for i, std := range q {
		pPred.Set(i, i, pPred.At(i, i)+std*std)
	}

	next := fromMat(&xPred, &pPred)
	f.clampShape(&next)
	f.condition(&next)
	if !IsFinite(next) {
		return l1detections.Box{}, ErrNonFinite
	}
	*s = next
	return f.Box(next), nil
}

// Update corrects the state with an observed box using the Joseph form
// covariance update.
func (f *Filter) Update(s *State, box l1detections.Box) error {
	z, err := f.measurement(box)
	if err != nil {
		return err
	}
	h := f.height(s.Mean[3])
	sp := f.cfg.StdWeightPosition * h
	r := [ndim]float64{sp * sp, sp * sp, 1e-2, sp * sp}

	p := mat.NewDense(sdim, sdim, append([]float64(nil), s.Cov[:]...))

	// S = H P Hᵀ + R
	var hp, hph mat.Dense
	hp.Mul(f.update, p)
	hph.Mul(&hp, f.update.T())
	innov := mat.NewSymDense(ndim, nil)
	for i := 0; i < ndim; i++ {
		for j := i; j < ndim; j++ {
			v := (hph.At(i, j) + hph.At(j, i)) / 2
			if i == j {
				v += r[i]
			}
			innov.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(innov); !ok {
		return ErrSingularCovariance
	}
	// Kᵀ = S⁻¹ H P
	var kt mat.Dense
	if err := chol.SolveTo(&kt, &hp); err != nil {
		return fmt.Errorf("%w: %v", ErrSingularCovariance, err)
	}
	gain := kt.T()

	y := mat.NewVecDense(ndim, nil)
	for i := 0; i < ndim; i++ {
		y.SetVec(i, z[i]-s.Mean[i])
	}
	var dx mat.VecDense
	dx.MulVec(gain, y)
	x := mat.NewVecDense(sdim, append([]float64(nil), s.Mean[:]...))
	x.AddVec(x, &dx)

	// P' = (I - K H) P (I - K H)ᵀ + K R Kᵀ
	var kh, ikh, left, pNew, kr, krk mat.Dense
	kh.Mul(gain, f.update)
	ikh.Sub(f.eye, &kh)
	left.Mul(&ikh, p)
	pNew.Mul(&left, ikh.T())
	rm := mat.NewDiagDense(ndim, r[:])
	kr.Mul(gain, rm)
	krk.Mul(&kr, &kt)
	pNew.Add(&pNew, &krk)

	next := fromMat(x, &pNew)
	f.clampShape(&next)
	f.condition(&next)
	if !IsFinite(next) {
		return ErrNonFinite
	}
	*s = next
	return nil
}

// Box returns the box implied by the state mean.
func (f *Filter) Box(s State) l1detections.Box {
	return l1detections.BoxFromXYAH(s.Mean[0], s.Mean[1], s.Mean[2], s.Mean[3])
}

// Velocity returns the centre velocity in coordinate units per frame.
func Velocity(s State) (vx, vy float64) {
	return s.Mean[4], s.Mean[5]
}

// IsFinite reports whether every mean and covariance entry is finite.
func IsFinite(s State) bool {
	for _, v := range s.Mean {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for _, v := range s.Cov {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (f *Filter) height(h float64) float64 {
	if math.IsNaN(h) || h < f.cfg.MinHeight {
		return f.cfg.MinHeight
	}
	return h
}

// measurement converts a box to xyah with the shape floors applied.
func (f *Filter) measurement(b l1detections.Box) ([ndim]float64, error) {
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return [ndim]float64{}, ErrDegenerateObservation
		}
	}
	cx, cy := b.Center()
	h := f.height(b.Height)
	a := math.Max(b.Width, 0) / h
	if a < f.cfg.MinAspect {
		a = f.cfg.MinAspect
	}
	return [ndim]float64{cx, cy, a, h}, nil
}

// clampShape keeps aspect and height above their floors, zeroing any
// velocity that would push them further down.
func (f *Filter) clampShape(s *State) {
	if s.Mean[2] < f.cfg.MinAspect {
		s.Mean[2] = f.cfg.MinAspect
		if s.Mean[6] < 0 {
			s.Mean[6] = 0
		}
	}
	if s.Mean[3] < f.cfg.MinHeight {
		s.Mean[3] = f.cfg.MinHeight
		if s.Mean[7] < 0 {
			s.Mean[7] = 0
		}
	}
}

// condition symmetrises the covariance and bounds its diagonal. Entries are
// scaled as D P D with D diagonal so the result stays positive
// semi-definite.
func (f *Filter) condition(s *State) {
	for i := 0; i < sdim; i++ {
		for j := i + 1; j < sdim; j++ {
			v := (s.Cov[i*sdim+j] + s.Cov[j*sdim+i]) / 2
			s.Cov[i*sdim+j] = v
			s.Cov[j*sdim+i] = v
		}
	}
	var scale [sdim]float64
	capped := false
	for i := 0; i < sdim; i++ {
		scale[i] = 1
		if d := s.Cov[i*sdim+i]; d > f.cfg.MaxCovarianceDiag {
			scale[i] = math.Sqrt(f.cfg.MaxCovarianceDiag / d)
			capped = true
		}
	}
	if !capped {
		return
	}
	for i := 0; i < sdim; i++ {
		for j := 0; j < sdim; j++ {
			s.Cov[i*sdim+j] *= scale[i] * scale[j]
		}
	}
}

func fromMat(x mat.Vector, p mat.Matrix) State {
	var s State
	for i := 0; i < sdim; i++ {
		s.Mean[i] = x.AtVec(i)
		for j := 0; j < sdim; j++ {
			s.Cov[i*sdim+j] = p.At(i, j)
		}
	}
	return s
}
