package main

import (
	"encoding/json"
	"fmt"
	"os"

	"convnode/internal/layer"
	convapi "convnode/pkg/convnode"
)

const defaultTicks = 100

type runConfig struct {
	Layer   layer.Layer
	Stimuli []convapi.Stimulus
}

func defaultRunConfig() runConfig {
	return runConfig{Layer: layer.Layer{
		KernelSize:        3,
		Stride:            1,
		TimerPeriodMicros: layer.DefaultTimerPeriodMicros,
		SimulationTicks:   defaultTicks,
		ZMask:             layer.DefaultZMask,
	}}
}

func loadRunConfig(path string) (runConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return runConfig{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return runConfig{}, err
	}

	cfg := defaultRunConfig()
	l := &cfg.Layer
	if v, ok := asInt(raw["width"]); ok {
		l.Width = v
	}
	if v, ok := asInt(raw["height"]); ok {
		l.Height = v
	}
	if v, ok := asFloat64(raw["threshold"]); ok {
		l.Threshold = v
	}
	if v, ok := asFloat64(raw["decay"]); ok {
		l.Decay = v
	}
	if v, ok := asBool(raw["record"]); ok {
		l.Record = v
	}
	if v, ok := asInt(raw["kernel_size"]); ok {
		l.KernelSize = v
	}
	if v, ok := asInt(raw["stride"]); ok {
		l.Stride = v
	}
	if v, ok := asUint32(raw["timer_period_us"]); ok {
		l.TimerPeriodMicros = v
	}
	if v, ok := asUint32(raw["simulation_ticks"]); ok {
		l.SimulationTicks = v
	}
	if v, ok := asUint32(raw["spike_key"]); ok {
		l.SpikeKey = v
	}
	if v, ok := asUint32(raw["z_mask"]); ok {
		l.ZMask = v
	}
	if v, ok := asUint32(raw["output_z_start"]); ok {
		l.OutputZStart = v
	}
	if v, ok := asInt(raw["profile_samples"]); ok {
		l.ProfileSamples = v
	}

	if rawWeights, ok := raw["weights"]; ok {
		weights, err := asWeights(rawWeights)
		if err != nil {
			return runConfig{}, fmt.Errorf("weights: %w", err)
		}
		l.Weights = weights
	}
	if rawImage, ok := raw["image"]; ok {
		image, err := asImage(rawImage)
		if err != nil {
			return runConfig{}, fmt.Errorf("image: %w", err)
		}
		l.Image = image
	}
	if rawStimuli, ok := raw["stimuli"].([]any); ok {
		for i, item := range rawStimuli {
			stimulus, err := asStimulus(item)
			if err != nil {
				return runConfig{}, fmt.Errorf("stimulus %d: %w", i, err)
			}
			cfg.Stimuli = append(cfg.Stimuli, stimulus)
		}
	}
	return cfg, nil
}

func loadOrDefaultRunConfig(path string) (runConfig, error) {
	if path == "" {
		return defaultRunConfig(), nil
	}
	cfg, err := loadRunConfig(path)
	if err != nil {
		return runConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func overrideFromFlags(l *layer.Layer, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "width":
			l.Width = v.(int)
		case "height":
			l.Height = v.(int)
		case "threshold":
			l.Threshold = v.(float64)
		case "decay":
			l.Decay = v.(float64)
		case "record":
			l.Record = v.(bool)
		case "kernel-size":
			l.KernelSize = v.(int)
		case "stride":
			l.Stride = v.(int)
		case "ticks":
			l.SimulationTicks = uint32(v.(uint))
		case "timer-period-us":
			l.TimerPeriodMicros = uint32(v.(uint))
		case "spike-key":
			l.SpikeKey = uint32(v.(uint))
		case "output-z-start":
			l.OutputZStart = uint32(v.(uint))
		}
	}
}

// asStimulus accepts either a raw key or x/y/z coordinates.
func asStimulus(v any) (convapi.Stimulus, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return convapi.Stimulus{}, fmt.Errorf("expected object, got %T", v)
	}
	var s convapi.Stimulus
	if tick, ok := asUint32(m["tick"]); ok {
		s.Tick = tick
	}
	if key, ok := asUint32(m["key"]); ok {
		s.Key = key
		return s, nil
	}
	x, okX := asUint32(m["x"])
	y, okY := asUint32(m["y"])
	if !okX || !okY {
		return convapi.Stimulus{}, fmt.Errorf("needs key or x and y")
	}
	z, _ := asUint32(m["z"])
	s.Key = z<<16 | (y&0xFF)<<8 | x&0xFF
	return s, nil
}

func asWeights(v any) ([][][][]float64, error) {
	kernels, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected [kernel][z][ky][kx] array")
	}
	out := make([][][][]float64, len(kernels))
	for k, kernel := range kernels {
		planes, ok := kernel.([]any)
		if !ok {
			return nil, fmt.Errorf("kernel %d is not an array", k)
		}
		out[k] = make([][][]float64, len(planes))
		for z, plane := range planes {
			rows, err := asMatrix(plane)
			if err != nil {
				return nil, fmt.Errorf("kernel %d plane %d: %w", k, z, err)
			}
			out[k][z] = rows
		}
	}
	return out, nil
}

func asMatrix(v any) ([][]float64, error) {
	rows, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array of rows")
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		values, ok := row.([]any)
		if !ok {
			return nil, fmt.Errorf("row %d is not an array", i)
		}
		out[i] = make([]float64, len(values))
		for j, value := range values {
			f, ok := asFloat64(value)
			if !ok {
				return nil, fmt.Errorf("row %d column %d is not a number", i, j)
			}
			out[i][j] = f
		}
	}
	return out, nil
}

func asImage(v any) ([][][3]float64, error) {
	rows, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected [y][x][rgb] array")
	}
	out := make([][][3]float64, len(rows))
	for y, row := range rows {
		pixels, err := asMatrix(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", y, err)
		}
		out[y] = make([][3]float64, len(pixels))
		for x, px := range pixels {
			if len(px) != 3 {
				return nil, fmt.Errorf("pixel (%d,%d) has %d channels", x, y, len(px))
			}
			out[y][x] = [3]float64{px[0], px[1], px[2]}
		}
	}
	return out, nil
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asUint32(v any) (uint32, bool) {
	switch x := v.(type) {
	case uint32:
		return x, true
	case int:
		return uint32(x), true
	case float64:
		if x < 0 {
			return 0, false
		}
		return uint32(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
