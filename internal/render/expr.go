package render

import (
	"image/color"

	"github.com/woozymasta/farmcanvas/internal/style"

	"github.com/paulmach/orb/geojson"
)

// eval resolves the subset of style expressions the paint layers use:
// literals, ["get", key] and ["match", input, label, value, ..., fallback].
func eval(v any, props geojson.Properties) any {
	expr, ok := v.([]any)
	if !ok || len(expr) == 0 {
		return v
	}
	op, _ := expr[0].(string)

	switch op {
	case "get":
		if len(expr) != 2 {
			return nil
		}
		key, _ := expr[1].(string)
		return props[key]

	case "match":
		if len(expr) < 3 {
			return nil
		}
		input := eval(expr[1], props)
		for i := 2; i+1 < len(expr)-1; i += 2 {
			if expr[i] == input {
				return eval(expr[i+1], props)
			}
		}
		return eval(expr[len(expr)-1], props)
	}

	return v
}

func paintFloat(l style.Layer, key string, props geojson.Properties, fallback float64) float64 {
	v, ok := l.Paint[key]
	if !ok {
		return fallback
	}
	switch n := eval(v, props).(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	}
	return fallback
}

// paintColor reads a colour and, when opacityKey is set, its opacity.
func paintColor(l style.Layer, colorKey, opacityKey string, props geojson.Properties) color.RGBA {
	hex, _ := eval(l.Paint[colorKey], props).(string)
	if hex == "" {
		return color.RGBA{}
	}
	opacity := 1.0
	if opacityKey != "" {
		opacity = paintFloat(l, opacityKey, props, 1)
	}
	return style.RGBA(hex, opacity)
}

func paintDash(l style.Layer) []float64 {
	dash, _ := l.Paint["line-dasharray"].([]float64)
	if len(dash) < 2 {
		return nil
	}
	for _, d := range dash {
		if d <= 0 {
			return nil
		}
	}
	return dash
}
