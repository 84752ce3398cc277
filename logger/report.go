package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ReportSource supplies application gauges for the runtime report, keyed by
// CloudWatch metric name.
type ReportSource func() map[string]float64

type componentStat struct {
	warns   int64
	errors  int64
	metrics int64
}

var components sync.Map // map[string]*componentStat

var (
	cpuPercentFn = func(ctx context.Context) ([]float64, error) {
		return cpu.PercentWithContext(ctx, 0, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
)

func statFor(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&statFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&statFor(component).errors, 1)
}

func recordMetric(component, _ string) {
	atomic.AddInt64(&statFor(component).metrics, 1)
}

// ComponentCounts returns warn, error and metric counts logged by component.
func ComponentCounts(component string) (warns, errors, metrics int64) {
	v, ok := components.Load(component)
	if !ok {
		return 0, 0, 0
	}
	cs := v.(*componentStat)
	return atomic.LoadInt64(&cs.warns), atomic.LoadInt64(&cs.errors), atomic.LoadInt64(&cs.metrics)
}

// StartReport logs a runtime report every interval until ctx is done. The
// report is also published to CloudWatch when a client is configured.
func StartReport(ctx context.Context, log *Log, interval time.Duration, source ReportSource) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log, source)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log, source ReportSource) {
	gauges := map[string]float64{
		"Goroutines": float64(runtime.NumGoroutine()),
	}
	if samples, err := cpuPercentFn(ctx); err == nil && len(samples) > 0 {
		gauges["CPUPercent"] = samples[0]
	}
	if vm, err := memoryStatsFn(ctx); err == nil {
		gauges["MemoryMB"] = float64(vm.Used) / 1024 / 1024
	}
	if source != nil {
		for k, v := range source() {
			gauges[k] = v
		}
	}

	componentData := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		componentData[k.(string)] = map[string]int64{
			"warns":   atomic.LoadInt64(&cs.warns),
			"errors":  atomic.LoadInt64(&cs.errors),
			"metrics": atomic.LoadInt64(&cs.metrics),
		}
		return true
	})

	fields := Fields{"components": componentData}
	for k, v := range gauges {
		fields[k] = v
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	publishMetrics(ctx, reportData(gauges, componentData))
}

func reportData(gauges map[string]float64, componentData map[string]map[string]int64) []cwtypes.MetricDatum {
	names := make([]string, 0, len(gauges))
	for name := range gauges {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([]cwtypes.MetricDatum, 0, len(gauges)+2*len(componentData))
	for _, name := range names {
		unit := cwtypes.StandardUnitCount
		switch name {
		case "CPUPercent":
			unit = cwtypes.StandardUnitPercent
		case "MemoryMB":
			unit = cwtypes.StandardUnitMegabytes
		case "MessagesPerSecond":
			unit = cwtypes.StandardUnitCountSecond
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       unit,
			Value:      aws.Float64(gauges[name]),
		})
	}
	for component, stats := range componentData {
		dims := []cwtypes.Dimension{{Name: aws.String("Component"), Value: aws.String(component)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("Warnings"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["warns"]))},
			cwtypes.MetricDatum{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["errors"]))},
		)
	}
	return data
}
