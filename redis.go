package main

import (
	"log"
	"strconv"
	"sync"
	"time"

	redistimeseries "github.com/RedisTimeSeries/redistimeseries-go"
	"github.com/pkg/errors"
)

// Recorder stores samples of device values over time and reads them back.
type Recorder interface {
	Record(key string, value float64) error
	GetAvg(key string) float64
	GetRecentEntries(key string, since time.Duration) ([]map[string]interface{}, error)
}

// nopRecorder keeps no history.
type nopRecorder struct{}

func (nopRecorder) Record(string, float64) error { return nil }

func (nopRecorder) GetAvg(string) float64 { return 0 }

func (nopRecorder) GetRecentEntries(string, time.Duration) ([]map[string]interface{}, error) {
	return []map[string]interface{}{}, nil
}

type Redis struct {
	client *redistimeseries.Client

	mu      sync.Mutex
	created map[string]bool
}

func NewRedis(host, port string, password *string) *Redis {
	client := redistimeseries.NewClient(host+":"+port, "copernicus-redis", password)
	return &Redis{client: client, created: map[string]bool{}}
}

// CreateTS creates key, and an averaging rule into key_avg when avg is set,
// unless the key already exists.
func (r *Redis) CreateTS(key string, avg bool) error {
	if _, err := r.client.Info(key); err == nil {
		return nil
	}

	if err := r.client.CreateKeyWithOptions(key, redistimeseries.DefaultCreateOptions); err != nil {
		return errors.Wrapf(err, "creating series %v", key)
	}
	if avg {
		if err := r.client.CreateKeyWithOptions(key+"_avg", redistimeseries.DefaultCreateOptions); err != nil {
			return errors.Wrapf(err, "creating series %v_avg", key)
		}
		if err := r.client.CreateRule(key, redistimeseries.AvgAggregation, 50, key+"_avg"); err != nil {
			return errors.Wrapf(err, "creating rule for %v", key)
		}
	}
	return nil
}

func (r *Redis) Record(key string, value float64) error {
	r.mu.Lock()
	created := r.created[key]
	r.mu.Unlock()

	if !created {
		if err := r.CreateTS(key, true); err != nil {
			return err
		}
		r.mu.Lock()
		r.created[key] = true
		r.mu.Unlock()
	}

	_, err := r.client.AddAutoTs(key, value)
	return errors.Wrapf(err, "adding to %v", key)
}

func (r *Redis) GetAvg(key string) float64 {
	value, err := r.client.Get(key + "_avg")
	if err != nil {
		log.Println(err)
		return 0
	}
	return value.Value
}

func (r *Redis) GetRecentEntries(key string, since time.Duration) ([]map[string]interface{}, error) {
	now := time.Now()
	startTime := now.Add(-since).UnixMilli()
	endTime := now.UnixMilli()
	values, err := r.client.RangeWithOptions(key, startTime, endTime, redistimeseries.DefaultRangeOptions)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %v", key)
	}

	data := []map[string]interface{}{}
	for _, value := range values {
		data = append(data, map[string]interface{}{
			"key":       key,
			"value":     value.Value,
			"timestamp": value.Timestamp,
		})
	}
	return data, nil
}

// seriesKeys returns the time series a device state contributes to.
func seriesKeys(state DeviceState) map[string]float64 {
	keys := map[string]float64{}
	switch state.Kind {
	case KindServo:
		keys[state.Name+"-angle"] = state.Angle
	case KindLED:
		if state.State == "on" {
			keys[state.Name+"-level"] = 1
			if state.Brightness > 0 {
				keys[state.Name+"-level"] = state.Brightness
			}
		} else {
			keys[state.Name+"-level"] = 0
		}
	case KindBuzzer:
		keys[state.Name+"-level"] = 0
		if state.State == "on" {
			keys[state.Name+"-level"] = 1
		}
	case KindMCP3002:
		for ch, v := range state.Channels {
			keys[state.Name+"-ch"+strconv.Itoa(ch)] = v
		}
	}
	return keys
}
