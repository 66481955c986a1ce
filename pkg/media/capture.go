package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/sirupsen/logrus"
)

// A source of samples read from a media file.
type sampleSource interface {
	codec() webrtc.RTPCodecCapability
	// Returns `io.EOF` once the source is exhausted.
	next() (pionmedia.Sample, error)
	rewind() error
	close()
}

// Feeds a track from a source in real time until the track is stopped.
type capture struct {
	source sampleSource
	track  *Track
	loop   bool
}

func (c *capture) run(logger *logrus.Entry) {
	defer c.source.close()

	written := 0
	for {
		sample, err := c.source.next()
		if errors.Is(err, io.EOF) {
			// An empty source would spin forever, treat it as ended.
			if c.loop && written > 0 {
				if err := c.source.rewind(); err == nil {
					written = 0
					continue
				} else {
					logger.WithError(err).Warn("failed to rewind capture source")
				}
			}

			logger.Info("capture source exhausted")
			c.track.End()
			return
		}

		if err != nil {
			logger.WithError(err).Error("failed to read from capture source")
			c.track.End()
			return
		}

		written++
		if err := c.track.WriteSample(sample); err != nil {
			if errors.Is(err, ErrTrackStopped) {
				return
			}
			logger.WithError(err).Warn("failed to write sample")
		}

		select {
		case <-c.track.Done():
			return
		case <-time.After(sample.Duration):
		}
	}
}

const opusTagsSignature = "OpusTags"

type oggSource struct {
	file        *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func openOggSource(path string) (*oggSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCantOpenCaptureFile, err)
	}

	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %w", ErrCantOpenCaptureFile, err)
	}

	return &oggSource{file: file, reader: reader}, nil
}

func (s *oggSource) codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func (s *oggSource) next() (pionmedia.Sample, error) {
	page, header, err := s.reader.ParseNextPage()
	if err != nil {
		return pionmedia.Sample{}, err
	}

	// The comment header follows the ID header and carries no audio.
	if bytes.HasPrefix(page, []byte(opusTagsSignature)) {
		if page, header, err = s.reader.ParseNextPage(); err != nil {
			return pionmedia.Sample{}, err
		}
	}

	// The granule position of Opus is always expressed in 48kHz samples.
	sampleCount := header.GranulePosition - s.lastGranule
	s.lastGranule = header.GranulePosition

	return pionmedia.Sample{
		Data:     page,
		Duration: time.Duration(sampleCount) * time.Second / 48000,
	}, nil
}

func (s *oggSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader, _, err := oggreader.NewWith(s.file)
	if err != nil {
		return err
	}

	s.reader = reader
	s.lastGranule = 0

	return nil
}

func (s *oggSource) close() {
	s.file.Close()
}

type ivfSource struct {
	file          *os.File
	reader        *ivfreader.IVFReader
	mimeType      string
	frameDuration time.Duration
}

func openIVFSource(path string) (*ivfSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCantOpenCaptureFile, err)
	}

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %w", ErrCantOpenCaptureFile, err)
	}

	var mimeType string
	switch header.FourCC {
	case "VP80":
		mimeType = webrtc.MimeTypeVP8
	case "VP90":
		mimeType = webrtc.MimeTypeVP9
	default:
		file.Close()
		return nil, fmt.Errorf("%w: unsupported codec %q", ErrCantOpenCaptureFile, header.FourCC)
	}

	if header.TimebaseDenominator == 0 {
		file.Close()
		return nil, fmt.Errorf("%w: invalid timebase", ErrCantOpenCaptureFile)
	}

	frameDuration := time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)

	return &ivfSource{file: file, reader: reader, mimeType: mimeType, frameDuration: frameDuration}, nil
}

func (s *ivfSource) codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: s.mimeType, ClockRate: 90000}
}

func (s *ivfSource) next() (pionmedia.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if err != nil {
		return pionmedia.Sample{}, err
	}

	return pionmedia.Sample{Data: frame, Duration: s.frameDuration}, nil
}

func (s *ivfSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader, _, err := ivfreader.NewWith(s.file)
	if err != nil {
		return err
	}

	s.reader = reader

	return nil
}

func (s *ivfSource) close() {
	s.file.Close()
}
