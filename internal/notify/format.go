// Package notify formats station summaries and delivers them to the
// configured sinks.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"furitingoasis/soilstation/internal/sensor"
)

const notConnected = "Sensor not connected"

// DailyInput is what the morning report is built from.
type DailyInput struct {
	Soil        sensor.Reading
	Temperature sensor.Reading
	Humidity    sensor.Reading
	Pressure    sensor.Reading
	PumpRuntime time.Duration
}

// DailyFromReadings picks the report inputs out of a poll by sensor name.
// Missing sensors show up as not connected.
func DailyFromReadings(readings []sensor.Reading, pump time.Duration) DailyInput {
	in := DailyInput{PumpRuntime: pump}
	for _, r := range readings {
		switch r.Name {
		case sensor.SoilMoistureName:
			in.Soil = r
		case sensor.TemperatureName:
			in.Temperature = r
		case sensor.HumidityName:
			in.Humidity = r
		case sensor.PressureName:
			in.Pressure = r
		}
	}
	return in
}

func value(r sensor.Reading) string {
	if !r.Valid {
		return notConnected
	}
	return fmt.Sprintf("%.1f%s", r.Value, r.Unit)
}

func status(r sensor.Reading) string {
	if !r.Valid {
		return notConnected
	}
	return r.Status
}

// FormatDaily renders the morning report as Markdown-flavoured text.
func FormatDaily(in DailyInput) string {
	var b strings.Builder
	b.WriteString("Good morning! :sun_with_face:\n")
	b.WriteString("Here is the daily report:\n")
	fmt.Fprintf(&b, "> Soil moisture: %s\n", value(in.Soil))
	fmt.Fprintf(&b, "> Soil moisture status: **%s**\n", status(in.Soil))
	fmt.Fprintf(&b, "> Temperature: **%s**\n", value(in.Temperature))
	fmt.Fprintf(&b, "> Humidity: **%s**\n", value(in.Humidity))
	if in.Pressure.Name != "" {
		p := value(in.Pressure)
		if in.Pressure.Valid {
			p = fmt.Sprintf("%.1f %s (%s)", in.Pressure.Value, in.Pressure.Unit, in.Pressure.Status)
		}
		fmt.Fprintf(&b, "> Pressure: **%s**\n", p)
	}
	fmt.Fprintf(&b, "> Pump run time yesterday: **%s**\n", formatDuration(in.PumpRuntime))
	return b.String()
}

// formatDuration renders d as "1h 02m 03s", dropping leading zero units.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// WebhookBody wraps content in the {"content": ...} chat webhook envelope.
// Newlines travel as \n escapes; markup characters are left unescaped.
func WebhookBody(content string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(struct {
		Content string `json:"content"`
	}{content}); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
