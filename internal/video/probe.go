package video

import (
	"fmt"
	"time"

	vidio "github.com/AlexEidt/Vidio"
)

// Info describes a finished recording.
type Info struct {
	Width    int
	Height   int
	FPS      float64
	Frames   int
	Duration time.Duration
}

func (i Info) String() string {
	return fmt.Sprintf("%dx%d, %d frames, %.1fs at %.0f fps", i.Width, i.Height, i.Frames, i.Duration.Seconds(), i.FPS)
}

// Probe reads the container metadata of path through ffprobe.
func Probe(path string) (Info, error) {
	v, err := vidio.NewVideo(path)
	if err != nil {
		return Info{}, fmt.Errorf("video: unable to probe %s: %w", path, err)
	}
	defer v.Close()

	return Info{
		Width:    v.Width(),
		Height:   v.Height(),
		FPS:      v.FPS(),
		Frames:   v.Frames(),
		Duration: time.Duration(v.Duration() * float64(time.Second)),
	}, nil
}
