package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"bookflow/logger"
)

type cloudWatchState struct {
	client        *cloudwatch.Client
	namespace     string
	dashboardName string
	region        string
}

var (
	cwState     atomic.Pointer[cloudWatchState]
	cwHandlerID MetricHandlerID

	// cloudWatchPublishInterval caps how often a single metric series is
	// pushed to CloudWatch. Keeps PutMetricData volume bounded on hot paths.
	cloudWatchPublishInterval = time.Minute

	metricPublishMu    sync.Mutex
	metricPublishTimes = make(map[string]time.Time)

	timeNow            = time.Now
	publishMetricsFunc = publishMetrics
)

func init() {
	cwState.Store(&cloudWatchState{
		namespace:     "Bookflow",
		dashboardName: "Bookflow",
	})
}

// InitCloudWatch initialises the CloudWatch client using the provided region
// and namespace, registers a bus handler that publishes every numeric metric,
// and creates the overview dashboard. When the client cannot be created the
// function logs a warning and leaves publishing disabled.
func InitCloudWatch(region, namespace, dashboard string, interval time.Duration) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	ctx := context.Background()
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	current := cwState.Load()
	state := cloudWatchState{}
	if current != nil {
		state = *current
	}

	state.client = cloudwatch.NewFromConfig(cfg)
	if namespace != "" {
		state.namespace = namespace
	}
	if dashboard != "" {
		state.dashboardName = dashboard
	}
	if cfg.Region != "" {
		state.region = cfg.Region
	} else {
		state.region = region
	}

	cwState.Store(&state)

	if interval > 0 {
		cloudWatchPublishInterval = interval
	}

	if cwHandlerID == 0 {
		cwHandlerID = RegisterMetricHandler(publishBusMetric)
	}

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")

	if err := CreateDashboard(ctx); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

// publishBusMetric forwards one bus metric to CloudWatch when a client is
// configured. Non-numeric values are skipped.
func publishBusMetric(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{
			"metric": m.Name,
		}).Debug("non-numeric metric value; skipping publish")
		return
	}

	publishMetricDatum(m, value)
}

// publishMetricDatum converts one metric into a CloudWatch datum and publishes
// it, dropping repeats of the same series inside the publish interval.
func publishMetricDatum(m Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	key := m.Component + "|" + m.Name
	now := timeNow()

	metricPublishMu.Lock()
	if last, ok := metricPublishTimes[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		metricPublishMu.Unlock()
		return
	}
	metricPublishTimes[key] = now
	metricPublishMu.Unlock()

	unit := cwtypes.StandardUnitCount
	if rawUnit, ok := m.Fields["unit"]; ok {
		if unitStr, ok := rawUnit.(string); ok {
			if parsedUnit, found := metricUnitFromString(unitStr); found {
				unit = parsedUnit
			} else {
				logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{
					"metric": m.Name,
					"unit":   unitStr,
				}).Debug("unsupported metric unit; defaulting to Count")
			}
		}
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	for k, v := range m.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	data := []cwtypes.MetricDatum{{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
	}}
	publishMetricsFunc(context.Background(), state, data)
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if state == nil || state.client == nil {
		return
	}
	if len(data) == 0 {
		logger.GetLogger().WithComponent("cloudwatch").Debug("no metric data to publish")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names = append(names, *datum.MetricName)
		}
	}

	logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{
		"metrics": strings.Join(names, ","),
	}).Debug("published metrics to CloudWatch")
}

func resetMetricPublishTimes() {
	metricPublishMu.Lock()
	metricPublishTimes = make(map[string]time.Time)
	metricPublishMu.Unlock()
}

// dashboardWidget mirrors the subset of the CloudWatch dashboard body schema
// the overview dashboard uses.
type dashboardWidget struct {
	Type       string                 `json:"type"`
	X          int                    `json:"x"`
	Y          int                    `json:"y"`
	Width      int                    `json:"width"`
	Height     int                    `json:"height"`
	Properties map[string]interface{} `json:"properties"`
}

type dashboardBody struct {
	Widgets []dashboardWidget `json:"widgets"`
}

// buildDashboardBody assembles the overview dashboard definition for the
// given namespace and region: one row of drop counters, one row of session
// health counters.
func buildDashboardBody(namespace, region string) (string, error) {
	widget := func(x, y int, title, component string, metricNames ...string) dashboardWidget {
		series := make([][]interface{}, 0, len(metricNames))
		for _, name := range metricNames {
			series = append(series, []interface{}{namespace, name, "component", component})
		}
		return dashboardWidget{
			Type: "metric", X: x, Y: y, Width: 12, Height: 6,
			Properties: map[string]interface{}{
				"metrics": series,
				"period":  60,
				"stat":    "Sum",
				"region":  region,
				"title":   title,
			},
		}
	}

	body := dashboardBody{
		Widgets: []dashboardWidget{
			widget(0, 0, "Channel drops", "channel_drops",
				string(DropMetricRawFeed), string(DropMetricEvents), string(DropMetricControls)),
			widget(12, 0, "Session drops", "channel_drops",
				string(DropMetricSessionInbox), string(DropMetricUpdates)),
			widget(0, 6, "Sequence gaps", "session", "sequence_gaps"),
			widget(12, 6, "Resyncs", "session", "resyncs"),
		},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal dashboard body: %w", err)
	}
	return string(raw), nil
}

// CreateDashboard writes the overview dashboard. API failures are surfaced to
// the caller.
func CreateDashboard(ctx context.Context) error {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := buildDashboardBody(state.namespace, state.region)
	if err != nil {
		return err
	}

	if _, err := state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(body),
	}); err != nil {
		return err
	}

	logger.GetLogger().WithComponent("cloudwatch").Debug("updated CloudWatch dashboard")
	return nil
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
