package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	eventsReceived int64
	claimsWon      int64
	claimsLost     int64
	claimFailures  int64
	tokenRefreshes int64
	hubReconnects  int64
	warnsTotal     int64
	errorsTotal    int64
	components     sync.Map // map[string]*int64 warn+error count per component
)

func recordWarn(component string) {
	atomic.AddInt64(&warnsTotal, 1)
	recordComponent(component)
}

func recordError(component string) {
	atomic.AddInt64(&errorsTotal, 1)
	recordComponent(component)
}

func recordComponent(name string) {
	v, _ := components.LoadOrStore(name, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func IncrementEventReceived() { atomic.AddInt64(&eventsReceived, 1) }
func IncrementClaimWon()      { atomic.AddInt64(&claimsWon, 1) }
func IncrementClaimLost()     { atomic.AddInt64(&claimsLost, 1) }
func IncrementClaimFailure()  { atomic.AddInt64(&claimFailures, 1) }
func IncrementTokenRefresh()  { atomic.AddInt64(&tokenRefreshes, 1) }
func IncrementHubReconnect()  { atomic.AddInt64(&hubReconnects, 1) }

// StatsSnapshot returns the current worker counters. Consumed by the status
// endpoint and the periodic report.
func StatsSnapshot() map[string]int64 {
	return map[string]int64{
		"events_received": atomic.LoadInt64(&eventsReceived),
		"claims_won":      atomic.LoadInt64(&claimsWon),
		"claims_lost":     atomic.LoadInt64(&claimsLost),
		"claim_failures":  atomic.LoadInt64(&claimFailures),
		"token_refreshes": atomic.LoadInt64(&tokenRefreshes),
		"hub_reconnects":  atomic.LoadInt64(&hubReconnects),
		"warns":           atomic.LoadInt64(&warnsTotal),
		"errors":          atomic.LoadInt64(&errorsTotal),
	}
}

// StartReport begins periodic logging of runtime and worker statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	stats := StatsSnapshot()

	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memoryMB := int64(0)
	if memStats != nil {
		memoryMB = int64(memStats.Used) / 1024 / 1024
	}

	componentData := map[string]int64{}
	components.Range(func(k, v any) bool {
		componentData[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})

	fields := Fields{
		"goroutines":  runtime.NumGoroutine(),
		"cpu_percent": cpuPct,
		"memory_mb":   memoryMB,
		"components":  componentData,
	}
	for k, v := range stats {
		fields[k] = v
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memoryMB))},
		{MetricName: aws.String("EventsReceived"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(stats["events_received"]))},
		{MetricName: aws.String("ClaimsWon"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(stats["claims_won"]))},
		{MetricName: aws.String("ClaimsLost"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(stats["claims_lost"]))},
		{MetricName: aws.String("ClaimFailures"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(stats["claim_failures"]))},
		{MetricName: aws.String("TokenRefreshes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(stats["token_refreshes"]))},
		{MetricName: aws.String("HubReconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(stats["hub_reconnects"]))},
		{MetricName: aws.String("Warns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(stats["warns"]))},
		{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(stats["errors"]))},
	}

	publishMetrics(ctx, data)
}
