package alerts

import (
	"html/template"
	"strings"
	"time"

	"plant-sentinel/pkg/database"
)

// bodyTemplate renders one alert into a small HTML fragment suitable for a
// mail body or a chat webhook. Kept deliberately plain so every client
// renders it the same way.
var bodyTemplate = template.Must(template.New("alert").Parse(`<h3>Plant health alert</h3>
<p><strong>{{.PlantName}}</strong> (plant {{.PlantID}}) needs attention.</p>
<p>{{.Describe}}: the rolling average over the last three readings is <strong>{{printf "%.2f" .Value}}{{.Unit}}</strong>.</p>
<p>Raised at {{.When}}.</p>`))

type bodyData struct {
	PlantID   int64
	PlantName string
	Describe  string
	Value     float64
	Unit      string
	When      string
}

// RenderBody builds the notification text for one alert record.
func RenderBody(rec database.AlertRecord, plantName string) (string, error) {
	data := bodyData{
		PlantID:   rec.PlantID,
		PlantName: plantName,
		Value:     rec.Value,
		When:      time.Unix(rec.SentAt, 0).UTC().Format(time.RFC1123),
	}
	if data.PlantName == "" {
		data.PlantName = "Unnamed plant"
	}

	switch rec.AlertType {
	case TypeSoilMoisture:
		data.Describe = "Soil is too dry"
		data.Unit = "%"
	default:
		data.Unit = "°C"
		if rec.Value > TempHigh {
			data.Describe = "Temperature is too high"
		} else {
			data.Describe = "Temperature is too low"
		}
	}

	var sb strings.Builder
	if err := bodyTemplate.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
