package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Job describes one packaging run.
type Job struct {
	Input     string `yaml:"input"`
	OutputDir string `yaml:"output_dir"`

	// Container is "ts" or "fmp4".
	Container string `yaml:"container"`
	// SegmentDuration and SubsegmentDuration are in seconds.
	SegmentDuration    float64 `yaml:"segment_duration"`
	SubsegmentDuration float64 `yaml:"subsegment_duration"`
	SingleFile         bool    `yaml:"single_file"`

	MasterPlaylist string `yaml:"master_playlist"`
	// WindowSize bounds live playlists while the job is running.
	WindowSize int `yaml:"window_size"`
	// RotationPolicy is "keep_all" or "keep_latest".
	RotationPolicy string `yaml:"rotation_policy"`
	Strict         bool   `yaml:"strict"`

	Streams    []StreamJob    `yaml:"streams"`
	Encryption *EncryptionJob `yaml:"encryption"`
}

// StreamJob selects one input track and names its playlist.
type StreamJob struct {
	Track    int    `yaml:"track"`
	Playlist string `yaml:"playlist"`
	Name     string `yaml:"name"`
	GroupID  string `yaml:"group_id"`
	Language string `yaml:"language"`
	// TrickPlayFactor above zero adds an I-frame only rendition next to the
	// main one.
	TrickPlayFactor uint32 `yaml:"trick_play_factor"`
	Bandwidth       uint32 `yaml:"bandwidth"`
}

// EncryptionJob carries hex encoded key material. Either a fixed key or a
// rotation secret is set.
type EncryptionJob struct {
	Scheme         string  `yaml:"scheme"`
	KeyID          string  `yaml:"key_id"`
	Key            string  `yaml:"key"`
	IV             string  `yaml:"iv"`
	RotationSecret string  `yaml:"rotation_secret"`
	ClearLead      float64 `yaml:"clear_lead"`
	CryptPeriod    float64 `yaml:"crypt_period"`

	KeySystems []KeySystemJob `yaml:"key_systems"`
}

// KeySystemJob is one DRM system: its hex system id and base64 pssh box.
type KeySystemJob struct {
	SystemID string `yaml:"system_id"`
	PSSH     string `yaml:"pssh"`
}

// DefaultJob returns the values a job file starts from.
func DefaultJob() *Job {
	return &Job{
		OutputDir:       "out",
		Container:       "fmp4",
		SegmentDuration: 6,
		MasterPlaylist:  "master.m3u8",
		WindowSize:      6,
		RotationPolicy:  "keep_all",
	}
}

// LoadJob reads a YAML job file over the defaults and validates it.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read job file")
	}
	job := DefaultJob()
	if err := yaml.Unmarshal(data, job); err != nil {
		return nil, errors.Wrap(err, "parse job file")
	}
	if err := job.Validate(); err != nil {
		return nil, errors.Wrap(err, "job validation failed")
	}
	return job, nil
}

// Validate checks the job for values the pipeline cannot run with.
func (j *Job) Validate() error {
	if j.Input == "" {
		return errors.New("input is required")
	}
	if j.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	switch strings.ToLower(j.Container) {
	case "ts", "fmp4":
	default:
		return errors.Errorf("invalid container: %s (must be 'ts' or 'fmp4')", j.Container)
	}
	if j.SingleFile && strings.ToLower(j.Container) != "fmp4" {
		return errors.New("single_file requires the fmp4 container")
	}
	if j.SegmentDuration <= 0 {
		return errors.Errorf("invalid segment_duration: %v (must be positive)", j.SegmentDuration)
	}
	if j.SubsegmentDuration < 0 || j.SubsegmentDuration > j.SegmentDuration {
		return errors.Errorf("invalid subsegment_duration: %v", j.SubsegmentDuration)
	}
	switch j.RotationPolicy {
	case "", "keep_all", "keep_latest":
	default:
		return errors.Errorf("invalid rotation_policy: %s (must be 'keep_all' or 'keep_latest')", j.RotationPolicy)
	}

	playlists := make(map[string]bool)
	for i, s := range j.Streams {
		if s.Track < 0 {
			return errors.Errorf("stream %d: invalid track %d", i, s.Track)
		}
		if s.Playlist == "" {
			return errors.Errorf("stream %d: playlist is required", i)
		}
		if playlists[s.Playlist] {
			return errors.Errorf("stream %d: duplicate playlist %s", i, s.Playlist)
		}
		playlists[s.Playlist] = true
	}

	if e := j.Encryption; e != nil {
		fixed := e.Key != "" || e.KeyID != ""
		if fixed == (e.RotationSecret != "") {
			return errors.New("encryption needs either key_id and key or rotation_secret")
		}
		if e.CryptPeriod < 0 || e.ClearLead < 0 {
			return errors.New("encryption durations must not be negative")
		}
		if e.RotationSecret != "" && e.CryptPeriod == 0 {
			return errors.New("rotation_secret requires crypt_period")
		}
	}
	return nil
}
