// Package metrics periodically publishes relay counters to Amazon CloudWatch.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	defaultNamespace = "ArenaRelay"
	defaultInterval  = time.Minute

	// maxDatumsPerCall is the PutMetricData batch limit.
	maxDatumsPerCall = 1000
)

// Sample is one observation taken from a Source.
type Sample struct {
	Name  string
	Value float64
	// Counter marks a monotonically increasing total. The publisher sends the
	// change since the previous publish instead of the raw value.
	Counter bool
}

// Source returns the current samples. It is called once per publish.
type Source func(ctx context.Context) []Sample

// Config configures a Publisher.
type Config struct {
	Region    string
	Namespace string
	Interval  time.Duration
	// Dimensions are attached to every datum, e.g. {"mode": "full"}.
	Dimensions map[string]string
}

type putter interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher sends samples to CloudWatch on a fixed interval.
type Publisher struct {
	client    putter
	namespace string
	interval  time.Duration
	dims      []cwtypes.Dimension
	source    Source
	last      map[string]float64
	now       func() time.Time
	logger    *slog.Logger
}

// NewPublisher loads the default AWS configuration for cfg.Region and returns
// a Publisher reading from source.
func NewPublisher(ctx context.Context, cfg Config, source Source, logger *slog.Logger) (*Publisher, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("metrics: load aws config: %w", err)
	}
	return newPublisher(cloudwatch.NewFromConfig(awsCfg), cfg, source, logger), nil
}

func newPublisher(client putter, cfg Config, source Source, logger *slog.Logger) *Publisher {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	dims := make([]cwtypes.Dimension, 0, len(cfg.Dimensions))
	for k, v := range cfg.Dimensions {
		if v == "" {
			continue
		}
		dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(v)})
	}
	return &Publisher{
		client:    client,
		namespace: cfg.Namespace,
		interval:  cfg.Interval,
		dims:      dims,
		source:    source,
		last:      make(map[string]float64),
		now:       time.Now,
		logger:    logger.With(slog.String("component", "metrics")),
	}
}

// Run publishes every interval until ctx is cancelled. Publish errors are
// logged and never stop the loop. A final publish is attempted on shutdown.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "cloudwatch publisher started",
		slog.String("namespace", p.namespace),
		slog.Duration("interval", p.interval),
	)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Publish(flushCtx); err != nil {
				p.logger.Warn("final metrics publish failed", slog.String("error", err.Error()))
			}
			cancel()
			return nil
		case <-ticker.C:
			if err := p.Publish(ctx); err != nil {
				p.logger.WarnContext(ctx, "metrics publish failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Publish takes one set of samples and sends it. Counters that have not moved
// since the last publish are still sent as zero.
func (p *Publisher) Publish(ctx context.Context) error {
	samples := p.source(ctx)
	if len(samples) == 0 {
		return nil
	}

	ts := aws.Time(p.now())
	data := make([]cwtypes.MetricDatum, 0, len(samples))
	for _, s := range samples {
		value := s.Value
		if s.Counter {
			value = s.Value - p.last[s.Name]
			if value < 0 {
				value = s.Value
			}
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(s.Name),
			Dimensions: p.dims,
			Timestamp:  ts,
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(value),
		})
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(data))
		if _, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: data[start:end],
		}); err != nil {
			return fmt.Errorf("metrics: put metric data: %w", err)
		}
	}

	// Baselines only advance once CloudWatch has accepted the batch.
	for _, s := range samples {
		if s.Counter {
			p.last[s.Name] = s.Value
		}
	}
	p.logger.DebugContext(ctx, "published metrics", slog.Int("count", len(data)))
	return nil
}
