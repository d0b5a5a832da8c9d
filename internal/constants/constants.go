// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Recognition constants
const (
	// EncodingDim is the length of a face encoding (histogram buckets)
	EncodingDim = 128

	// FaceSize is the edge length of the square face region fed to the encoder
	FaceSize = 160

	// SSDInputSize is the square input resolution of the SSD face network
	SSDInputSize = 300

	// DefaultMatchThreshold is the minimum cosine similarity for a match
	DefaultMatchThreshold = 0.6

	// DefaultSSDConfidence is the minimum detection confidence for an SSD candidate
	DefaultSSDConfidence = 0.5
)

// Cascade detector constants
const (
	// CascadeScaleFactor is the image pyramid scale step used by Haar cascades
	CascadeScaleFactor = 1.1

	// CascadeMinNeighbors is the number of neighbouring hits a box needs
	CascadeMinNeighbors = 5

	// FaceMinSize is the smallest face box in pixels
	FaceMinSize = 50

	// EyeMinSize is the smallest eye box in pixels
	EyeMinSize = 20
)

// Liveness constants
const (
	// MinBlinkFrames is the fewest frames a blink sequence may contain
	MinBlinkFrames = 5

	// EyePresenceRate is the fraction of frames that must show both eyes
	EyePresenceRate = 0.6

	// BlinkDropThreshold is the openness drop below the mean that counts as a blink
	BlinkDropThreshold = 0.05

	// BlinkConfidenceScale is the drop that maps to 100% confidence
	BlinkConfidenceScale = 0.15

	// BlurMin and BlurMax bound the Laplacian variance of a natural camera frame
	BlurMin = 100.0
	BlurMax = 1000.0

	// BypassConfidence is reported when the single image check fails open
	BypassConfidence = 50.0
)
