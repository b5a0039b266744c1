package entity

// AddressingKind selects how playback time maps onto stored records.
type AddressingKind string

const (
	// AddressingExact looks records up by floor(t * samplingRate).
	AddressingExact AddressingKind = "EXACT"
	// AddressingTolerant looks up the nearest frame number within a window,
	// for producers numbering frames at the native video rate.
	AddressingTolerant AddressingKind = "TOLERANT"
)

const DefaultToleranceFrames = 15

// AddressingMode is fixed when a job starts and travels with it.
type AddressingMode struct {
	Kind            AddressingKind `json:"kind"`
	ToleranceFrames int            `json:"tolerance_frames,omitempty"`
	// BaseRate is the frame rate the producer numbered frames with (native fps).
	// Zero means "same as the sampling rate".
	BaseRate float64 `json:"base_rate,omitempty"`
}

func ExactAddressing() AddressingMode {
	return AddressingMode{Kind: AddressingExact}
}

func TolerantAddressing(toleranceFrames int, baseRate float64) AddressingMode {
	if toleranceFrames < 0 {
		toleranceFrames = DefaultToleranceFrames
	}
	return AddressingMode{Kind: AddressingTolerant, ToleranceFrames: toleranceFrames, BaseRate: baseRate}
}
