package track

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// stateDim is the full Kalman state dimension:
// (cx, cy, s, r, vcx, vcy, vs, vr): box centre, scale (area), aspect
// ratio, and their first derivatives under a constant-velocity model.
const stateDim = 8

// measDim is the measurement dimension: (cx, cy, s, r) observed from a
// detection bounding box.
const measDim = 4

// Initial covariance prior for a freshly created track. Velocity terms
// carry much higher uncertainty because a single detection says nothing
// about motion.
const (
	initPosVar = 10.0
	initVelVar = 1e4
)

// minMeasurementConfidence floors the confidence used for R scaling so a
// near-zero detector score cannot blow the noise up without bound.
const minMeasurementConfidence = 0.1

// MotionConfig holds the noise parameters for the motion model.
type MotionConfig struct {
	// ProcessNoisePos is the per-frame process noise on the observed
	// state components (cx, cy, s, r).
	ProcessNoisePos float64
	// ProcessNoiseVel is the per-frame process noise on the velocity
	// components. Higher than ProcessNoisePos: scale and ratio velocity
	// are the least predictable parts of the state.
	ProcessNoiseVel float64
	// MeasurementNoise is the base variance of a detection measurement.
	MeasurementNoise float64
	// ConfidenceScaledNoise scales MeasurementNoise by the inverse of
	// the detection confidence, so high-confidence boxes pull the
	// estimate harder.
	ConfidenceScaledNoise bool
}

// MotionModel is a per-track constant-velocity Kalman estimator over
// bounding-box state. Predict advances the estimate one frame; Update
// corrects it with an associated detection.
type MotionModel struct {
	cfg MotionConfig

	x *mat.VecDense // state estimate, stateDim
	p *mat.Dense    // covariance, stateDim × stateDim

	f *mat.Dense // transition (position += velocity, dt = 1 frame)
	h *mat.Dense // measurement model: identity onto (cx, cy, s, r)
}

// NewMotionModel creates a motion model initialised from a detection
// box: zero velocity and a high-uncertainty prior on the velocity terms.
func NewMotionModel(box BBox, cfg MotionConfig) *MotionModel {
	x := mat.NewVecDense(stateDim, nil)
	cx, cy, s, r := boxToState(box)
	x.SetVec(0, cx)
	x.SetVec(1, cy)
	x.SetVec(2, s)
	x.SetVec(3, r)

	p := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < measDim; i++ {
		p.Set(i, i, initPosVar)
	}
	for i := measDim; i < stateDim; i++ {
		p.Set(i, i, initVelVar)
	}

	f := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		f.Set(i, i, 1)
	}
	for i := 0; i < measDim; i++ {
		f.Set(i, i+measDim, 1)
	}

	h := mat.NewDense(measDim, stateDim, nil)
	for i := 0; i < measDim; i++ {
		h.Set(i, i, 1)
	}

	return &MotionModel{cfg: cfg, x: x, p: p, f: f, h: h}
}

// Predict advances the state one frame (x ← F·x, P ← F·P·Fᵀ + Q) and
// returns the predicted bounding box. Called once per track per frame,
// whether or not a match is later found.
func (m *MotionModel) Predict() BBox {
	var nx mat.VecDense
	nx.MulVec(m.f, m.x)
	m.x.CopyVec(&nx)

	var fp, fpft mat.Dense
	fp.Mul(m.f, m.p)
	fpft.Mul(&fp, m.f.T())
	m.p.Copy(&fpft)

	for i := 0; i < measDim; i++ {
		m.p.Set(i, i, m.p.At(i, i)+m.cfg.ProcessNoisePos)
	}
	for i := measDim; i < stateDim; i++ {
		m.p.Set(i, i, m.p.At(i, i)+m.cfg.ProcessNoiseVel)
	}

	return m.Box()
}

// Update corrects the estimate with an associated detection using the
// standard Kalman gain. Only called for tracks matched this frame.
// Returns false when the innovation covariance is singular, in which
// case the state is left at the prediction.
func (m *MotionModel) Update(det Detection) bool {
	z := mat.NewVecDense(measDim, nil)
	cx, cy, s, r := boxToState(det.Box)
	z.SetVec(0, cx)
	z.SetVec(1, cy)
	z.SetVec(2, s)
	z.SetVec(3, r)

	// Innovation y = z − H·x.
	var hx, y mat.VecDense
	hx.MulVec(m.h, m.x)
	y.SubVec(z, &hx)

	// Measurement noise, optionally trusted more for confident boxes.
	rVar := m.cfg.MeasurementNoise
	if m.cfg.ConfidenceScaledNoise {
		conf := det.Confidence
		if conf < minMeasurementConfidence {
			conf = minMeasurementConfidence
		}
		rVar /= conf
	}

	// S = H·P·Hᵀ + R.
	var hp, sMat mat.Dense
	hp.Mul(m.h, m.p)
	sMat.Mul(&hp, m.h.T())
	for i := 0; i < measDim; i++ {
		sMat.Set(i, i, sMat.At(i, i)+rVar)
	}

	var sInv mat.Dense
	if err := sInv.Inverse(&sMat); err != nil {
		return false
	}

	// K = P·Hᵀ·S⁻¹.
	var pht, k mat.Dense
	pht.Mul(m.p, m.h.T())
	k.Mul(&pht, &sInv)

	// x ← x + K·y.
	var ky mat.VecDense
	ky.MulVec(&k, &y)
	m.x.AddVec(m.x, &ky)

	// P ← (I − K·H)·P.
	var kh mat.Dense
	kh.Mul(&k, m.h)
	ikh := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		ikh.Set(i, i, 1)
	}
	ikh.Sub(ikh, &kh)
	var np mat.Dense
	np.Mul(ikh, m.p)
	m.p.Copy(&np)

	return true
}

// Box converts the current state estimate back to a bounding box.
func (m *MotionModel) Box() BBox {
	return stateToBox(m.x.AtVec(0), m.x.AtVec(1), m.x.AtVec(2), m.x.AtVec(3))
}

// Finite reports whether every state and covariance-diagonal element is
// finite. A false result means numerical collapse; the owning track is
// deleted rather than allowed to corrupt association.
func (m *MotionModel) Finite() bool {
	for i := 0; i < stateDim; i++ {
		if v := m.x.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if v := m.p.At(i, i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// boxToState converts a bounding box to the observed state components:
// centre, scale (area) and aspect ratio.
func boxToState(b BBox) (cx, cy, s, r float64) {
	cx, cy = b.Center()
	return cx, cy, b.Area(), b.AspectRatio()
}

// stateToBox is the inverse conversion. With zero elapsed motion it
// reproduces the original box to floating-point tolerance.
func stateToBox(cx, cy, s, r float64) BBox {
	if s <= 0 || r <= 0 {
		return BBox{X1: cx, Y1: cy, X2: cx, Y2: cy}
	}
	w := math.Sqrt(s * r)
	h := s / w
	return BBox{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}
