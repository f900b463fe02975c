// Package track maintains stable identities for vehicles across video
// frames. It combines a constant-velocity Kalman motion model over
// bounding-box state, IOU-based cost association solved with the
// Hungarian algorithm, and a Tentative → Confirmed → Deleted lifecycle
// state machine with monotonically assigned integer ids.
package track
