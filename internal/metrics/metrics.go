// Package metrics emits scheduling metrics to AWS CloudWatch. Emission is
// fire-and-forget: a failed put is logged and swallowed, never surfaced to
// the scheduling path.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const namespace = "CrewBook/Scheduling"

// Metric names and dimensions.
const (
	metricBookingResult   = "BookingResult"
	metricBookingLatency  = "BookingLatency"
	metricWeatherFailOpen = "WeatherFailOpen"
	metricSweepMoves      = "SweepMoves"
	metricCompactionMoves = "CompactionMoves"

	dimResult = "Result"
	dimCrew   = "Crew"
	dimCity   = "City"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Emitter records scheduling metrics. A nil client disables emission, so
// local runs and tests need no CloudWatch wiring.
type Emitter struct {
	client CloudWatchClient
	logger *slog.Logger
}

// NewEmitter creates an Emitter publishing to the CrewBook namespace.
func NewEmitter(client CloudWatchClient, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{client: client, logger: logger}
}

// RecordBooking emits a BookingResult count with Result and Crew dimensions.
// Result is "booked", "failed", or "degraded".
func (e *Emitter) RecordBooking(ctx context.Context, result, crewID string) {
	e.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricBookingResult),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimResult), Value: aws.String(result)},
			{Name: aws.String(dimCrew), Value: aws.String(crewID)},
		},
	})
}

// RecordBookingLatency emits the wall time of one booking attempt.
func (e *Emitter) RecordBookingLatency(ctx context.Context, duration time.Duration) {
	e.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricBookingLatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

// RecordWeatherFailOpen counts fail-open acceptances per city. A sustained
// climb means the forecast provider is down and bookings are flying blind.
func (e *Emitter) RecordWeatherFailOpen(ctx context.Context, city string) {
	e.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricWeatherFailOpen),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimCity), Value: aws.String(city)},
		},
	})
}

// RecordSweepMoves emits the number of visits moved by one sweep run.
func (e *Emitter) RecordSweepMoves(ctx context.Context, moves int) {
	e.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricSweepMoves),
		Value:      aws.Float64(float64(moves)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordCompactionMoves emits the number of visits moved by one compaction run.
func (e *Emitter) RecordCompactionMoves(ctx context.Context, moves int) {
	e.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricCompactionMoves),
		Value:      aws.Float64(float64(moves)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (e *Emitter) put(ctx context.Context, datum cwtypes.MetricDatum) {
	if e.client == nil {
		return
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := e.client.PutMetricData(ctx, input); err != nil {
		e.logger.Error("failed to put metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err,
		)
	}
}
