package entity

// VideoMetadata is what the decoder reports once the container is opened.
type VideoMetadata struct {
	DurationSeconds float64
	Width           int
	Height          int
	// FrameRate is the native frame rate; zero when the container does not report one.
	FrameRate float64
}

// ModelArtifact is the opaque detector model uploaded alongside the video.
type ModelArtifact struct {
	Name string
	Data []byte
}

func (m ModelArtifact) Empty() bool {
	return len(m.Data) == 0
}
