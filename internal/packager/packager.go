// Package packager assembles a processing graph from a job description and
// runs it: demux, optional trick play, chunking, optional encryption and
// muxing per selected stream, with playlists published at the end.
package packager

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"media-packager/internal/chunking"
	"media-packager/internal/crypto"
	"media-packager/internal/demuxer"
	"media-packager/internal/event"
	"media-packager/internal/hls"
	"media-packager/internal/media"
	"media-packager/internal/muxer"
	"media-packager/internal/platform/config"
	"media-packager/internal/platform/logger"
	"media-packager/internal/platform/metrics"
	"media-packager/internal/trickplay"
)

// Options are the collaborators of a Job. Every field is optional.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Output defaults to a directory output at the job's output_dir.
	Output muxer.Output
	// Repository defaults to a new in-memory repository. Sharing one lets a
	// server publish playlists while the job runs.
	Repository *hls.InMemoryRepository
}

// Job is one assembled packaging run.
type Job struct {
	RunID string

	cfg     *config.Job
	log     *slog.Logger
	metrics *metrics.Metrics
	output  muxer.Output
	repo    *hls.InMemoryRepository
	svc     *hls.Service

	graph     *media.Graph
	source    *demuxer.MP4Source
	listeners []*event.HLSNotifyListener
}

// New opens the job input and builds its graph. The graph is started and
// ready to Run.
func New(cfg *config.Job, opts Options) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, media.NewConfigurationError("packager", err)
	}
	j := &Job{
		RunID:   uuid.NewString(),
		cfg:     cfg,
		log:     opts.Logger,
		metrics: opts.Metrics,
		output:  opts.Output,
		repo:    opts.Repository,
		graph:   media.NewGraph(),
	}
	if j.log == nil {
		j.log = logger.Discard()
	}
	j.log = j.log.With(slog.String("run_id", j.RunID))
	if j.output == nil {
		out, err := muxer.NewDirOutput(cfg.OutputDir)
		if err != nil {
			return nil, err
		}
		j.output = out
	}
	if j.repo == nil {
		j.repo = hls.NewInMemoryRepository()
	}
	j.svc = hls.NewService(j.repo, cfg.WindowSize)

	src, err := demuxer.OpenMP4("demuxer", cfg.Input, j.log)
	if err != nil {
		return nil, err
	}
	j.source = src
	j.graph.Add(src)

	if err := j.build(); err != nil {
		j.graph.Close()
		return nil, err
	}
	if err := j.graph.Start(); err != nil {
		j.graph.Close()
		return nil, err
	}
	return j, nil
}

// Service renders the playlists of this job.
func (j *Job) Service() *hls.Service { return j.svc }

// Repository holds the playlist state of this job.
func (j *Job) Repository() *hls.InMemoryRepository { return j.repo }

func (j *Job) build() error {
	streams := j.cfg.Streams
	if len(streams) == 0 {
		streams = defaultStreams(j.source.Streams())
	}
	infos := j.source.Streams()
	ids := hls.NewStreamIDs()
	notifier := hls.NewPlaylistNotifier(j.repo, ids, j.log)

	for _, s := range streams {
		if !j.source.IsValidOutput(s.Track) {
			return media.NewConfigurationError("packager", errors.Errorf("track %d not found in %s", s.Track, j.cfg.Input))
		}
		if s.TrickPlayFactor > 0 && infos[s.Track].Type != media.StreamVideo {
			return media.NewConfigurationError("packager", errors.Errorf("track %d: trick play needs a video track", s.Track))
		}

		var from media.Handler = j.source
		fromIndex := s.Track
		if s.Language != "" {
			lang := s.Language
			rw := j.graph.Add(media.NewInfoRewriter(fmt.Sprintf("language_%d", s.Track), func(info *media.StreamInfo) *media.StreamInfo {
				return info.WithLanguage(lang)
			}))
			if err := j.graph.Connect(j.source, s.Track, rw, 0); err != nil {
				return err
			}
			from, fromIndex = rw, 0
		}

		main, err := j.leg(s, s.Playlist, notifier)
		if err != nil {
			return err
		}
		if s.TrickPlayFactor == 0 {
			if err := j.graph.Connect(from, fromIndex, main, 0); err != nil {
				return err
			}
			continue
		}

		rep := j.graph.Add(media.NewReplicator(fmt.Sprintf("replicator_%d", s.Track)))
		tp, err := trickplay.New(fmt.Sprintf("trickplay_%d", s.Track), s.TrickPlayFactor)
		if err != nil {
			return err
		}
		j.graph.Add(tp)
		trick := s
		trick.Bandwidth = 0
		trickLeg, err := j.leg(trick, trickPlaylist(s.Playlist), notifier)
		if err != nil {
			return err
		}
		if err := j.graph.Connect(from, fromIndex, rep, 0); err != nil {
			return err
		}
		if err := j.graph.Connect(rep, 0, main, 0); err != nil {
			return err
		}
		if err := j.graph.Connect(rep, 1, tp, 0); err != nil {
			return err
		}
		if err := j.graph.Connect(tp, 0, trickLeg, 0); err != nil {
			return err
		}
	}
	return nil
}

// leg builds chunker, encryptor and muxer for one playlist and returns its
// entry handler.
func (j *Job) leg(s config.StreamJob, playlist string, notifier hls.Notifier) (media.Handler, error) {
	base := strings.TrimSuffix(playlist, ".m3u8")
	chunker, err := chunking.New("chunker_"+base, chunking.Params{
		SegmentDuration:    j.cfg.SegmentDuration,
		SubsegmentDuration: j.cfg.SubsegmentDuration,
	}, j.log)
	if err != nil {
		return nil, err
	}
	chain := []media.Handler{chunker}

	if enc := j.cfg.Encryption; enc != nil {
		keys, err := keySource(enc)
		if err != nil {
			return nil, media.NewConfigurationError("packager", err)
		}
		e, err := crypto.NewEncryptionHandler("encryptor_"+base, crypto.Params{
			Scheme:      media.ParseFourCC(enc.Scheme),
			ClearLead:   enc.ClearLead,
			CryptPeriod: enc.CryptPeriod,
		}, keys, j.log)
		if err != nil {
			return nil, err
		}
		chain = append(chain, e)
	}

	container := media.ParseContainerType(j.cfg.Container)
	writer, err := muxer.NewSegmentWriter(container)
	if err != nil {
		return nil, media.NewConfigurationError("packager", err)
	}
	identity := hls.StreamIdentity{PlaylistName: playlist, Name: s.Name, GroupID: s.GroupID}
	hlsListener := event.NewHLSNotifyListener(identity, notifier,
		event.WithRotationPolicy(event.ParseRotationPolicy(j.cfg.RotationPolicy)),
		event.WithStrict(j.cfg.Strict),
		event.WithLogger(j.log),
		event.WithMetrics(j.metrics),
	)
	j.listeners = append(j.listeners, hlsListener)
	listener := event.NewCombinedListener(hlsListener)
	if j.metrics != nil {
		listener.Add(event.NewMetricsListener(j.metrics))
	}

	m, err := muxer.New("muxer_"+base, muxer.Config{
		Options:  muxerOptions(base, container, j.cfg.SingleFile, s.Bandwidth),
		Writer:   writer,
		Output:   j.output,
		Listener: listener,
		Metrics:  j.metrics,
		Logger:   j.log,
	})
	if err != nil {
		return nil, err
	}
	chain = append(chain, m)

	for _, h := range chain {
		j.graph.Add(h)
	}
	if err := j.graph.Chain(chain...); err != nil {
		return nil, err
	}
	return chunker, nil
}

func muxerOptions(base string, container media.ContainerType, singleFile bool, bandwidth uint32) media.MuxerOptions {
	opts := media.MuxerOptions{BandwidthBps: bandwidth}
	switch {
	case singleFile:
		opts.OutputFileName = base + ".mp4"
	case container == media.ContainerMP4:
		opts.OutputFileName = base + "_init.mp4"
		opts.SegmentTemplate = base + "_$Number$" + container.Extension()
	default:
		opts.OutputFileName = base + container.Extension()
		opts.SegmentTemplate = base + "_$Number$" + container.Extension()
	}
	return opts
}

func trickPlaylist(playlist string) string {
	return strings.TrimSuffix(playlist, ".m3u8") + "_trick.m3u8"
}

// defaultStreams selects every supported track. Audio tracks share one
// rendition group.
func defaultStreams(infos []*media.StreamInfo) []config.StreamJob {
	streams := make([]config.StreamJob, 0, len(infos))
	for i, info := range infos {
		s := config.StreamJob{Track: i, Playlist: fmt.Sprintf("stream_%d.m3u8", i)}
		if info.Type == media.StreamAudio {
			s.GroupID = "audio"
			s.Name = info.Language
			if s.Name == "" {
				s.Name = fmt.Sprintf("audio_%d", i)
			}
		}
		streams = append(streams, s)
	}
	return streams
}

func keySource(enc *config.EncryptionJob) (crypto.KeySource, error) {
	systems, err := keySystems(enc.KeySystems)
	if err != nil {
		return nil, err
	}
	if enc.RotationSecret != "" {
		secret, err := hex.DecodeString(enc.RotationSecret)
		if err != nil {
			return nil, errors.Wrap(err, "rotation secret")
		}
		return crypto.NewRotatingKeySource(secret, systems)
	}
	key := crypto.Key{KeySystems: systems}
	if key.KeyID, err = hex.DecodeString(enc.KeyID); err != nil {
		return nil, errors.Wrap(err, "key id")
	}
	if key.Key, err = hex.DecodeString(enc.Key); err != nil {
		return nil, errors.Wrap(err, "key")
	}
	if key.IV, err = hex.DecodeString(enc.IV); err != nil {
		return nil, errors.Wrap(err, "iv")
	}
	return crypto.NewFixedKeySource(key)
}

func keySystems(in []config.KeySystemJob) ([]media.KeySystemInfo, error) {
	var out []media.KeySystemInfo
	for _, ks := range in {
		id, err := hex.DecodeString(strings.ReplaceAll(ks.SystemID, "-", ""))
		if err != nil {
			return nil, errors.Wrapf(err, "system id %s", ks.SystemID)
		}
		pssh, err := base64.StdEncoding.DecodeString(ks.PSSH)
		if err != nil {
			return nil, errors.Wrapf(err, "pssh for %s", ks.SystemID)
		}
		out = append(out, media.KeySystemInfo{SystemID: id, PSSH: pssh})
	}
	return out, nil
}

// Run pushes the input through the graph and publishes the playlists. The
// input is closed when Run returns.
func (j *Job) Run(ctx context.Context) error {
	defer j.graph.Close()
	j.log.Info("packaging started", slog.String("input", j.cfg.Input), slog.Int("playlists", len(j.listeners)))

	if err := j.source.Run(ctx); err != nil {
		if j.metrics != nil && !errors.Is(err, context.Canceled) {
			j.metrics.IncHandlerErrors()
		}
		return errors.Wrap(err, "run pipeline")
	}
	if err := j.svc.Publish(j.output, j.cfg.MasterPlaylist); err != nil {
		return err
	}
	j.log.Info("packaging finished", slog.Int("streams", len(j.repo.Streams())))
	return nil
}
