package briefing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stationwx/wxboard/internal/ai"
	"github.com/stationwx/wxboard/internal/wx"
	"github.com/stationwx/wxboard/pkg/logger"
)

const systemPrompt = `You are an aviation weather briefer. Summarize the ` +
	`conditions below for a general-aviation pilot in 3-5 short sentences. ` +
	`Lead with any IFR or LIFR conditions, current or forecast. Use plain ` +
	`language, no markdown.`

// Service produces an optional plain-language briefing of the current
// dashboard state. The generated text is cached until the underlying
// payload changes, so repeated requests cost nothing.
type Service struct {
	provider ai.ChatProvider
	wx       *wx.Service
	model    string

	cachedFor  time.Time
	cachedText string
	mu         sync.Mutex

	logger *logger.Logger
}

// NewService creates the briefing service.
func NewService(provider ai.ChatProvider, wxService *wx.Service, model string, log *logger.Logger) *Service {
	return &Service{
		provider: provider,
		wx:       wxService,
		model:    model,
		logger:   log.Named("briefing"),
	}
}

// Briefing returns the summary for the current payload, generating it if
// the payload changed since the last call.
func (s *Service) Briefing(ctx context.Context) (string, time.Time, error) {
	dash, err := s.wx.Dashboard(false)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("no weather data for briefing: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedText != "" && s.cachedFor.Equal(dash.FetchedAt) {
		return s.cachedText, s.cachedFor, nil
	}

	prompt := renderConditions(dash)
	s.logger.Debug("Generating weather briefing",
		logger.Int("stations", len(dash.Stations)),
		logger.Int("alerts", len(dash.Alerts)))

	text, err := s.provider.ChatCompletion(ctx, []ai.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}, ai.ChatConfig{
		Model:       s.model,
		Temperature: 0.3,
		MaxTokens:   400,
	})
	if err != nil {
		return "", time.Time{}, err
	}

	s.cachedText = text
	s.cachedFor = dash.FetchedAt
	return text, dash.FetchedAt, nil
}

// renderConditions flattens the dashboard into the LLM prompt.
func renderConditions(dash *wx.Dashboard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conditions as of %s UTC:\n", dash.FetchedAt.UTC().Format("1504"))

	for _, st := range dash.Stations {
		fmt.Fprintf(&b, "- %s (%s): %s", st.ID, st.Name, strings.ToUpper(string(st.Category)))
		if st.Observation.HasObs {
			fmt.Fprintf(&b, ", visibility %.1f sm", st.Observation.Visibility)
			if st.Observation.Ceiling != nil {
				fmt.Fprintf(&b, ", ceiling %.0f ft", *st.Observation.Ceiling)
			}
			if st.Observation.WindSpeed != nil {
				fmt.Fprintf(&b, ", wind %.0f kt", *st.Observation.WindSpeed)
				if st.Observation.WindGust != nil {
					fmt.Fprintf(&b, " gusting %.0f", *st.Observation.WindGust)
				}
			}
		} else {
			b.WriteString(", no current observation")
		}
		b.WriteString("\n")
	}

	if len(dash.Alerts) > 0 {
		b.WriteString("Active alerts:\n")
		for _, a := range dash.Alerts {
			if a.Type == wx.AlertForecast && a.Hour != nil {
				fmt.Fprintf(&b, "- %s forecast %s at %s UTC\n",
					a.StationID, strings.ToUpper(string(a.Category)), a.Hour.UTC().Format("1504"))
			} else {
				fmt.Fprintf(&b, "- %s currently %s\n", a.StationID, strings.ToUpper(string(a.Category)))
			}
		}
	}

	return b.String()
}
