package model

import (
	"sort"
	"strings"
	"time"
)

// Channel identifies one of the two audio sources in a consultation
type Channel string

const (
	ChannelClinician Channel = "clinician"
	ChannelPatient   Channel = "patient"
)

// Channels lists every channel a session carries
var Channels = []Channel{ChannelClinician, ChannelPatient}

// ParseChannel returns the channel named by s
func ParseChannel(s string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelClinician:
		return ChannelClinician, true
	case ChannelPatient:
		return ChannelPatient, true
	}
	return "", false
}

// AudioFrame is one chunk of decoded PCM delivered by the media transport
type AudioFrame struct {
	SessionID  string
	Channel    Channel
	Samples    []float32 // mono, [-1, 1]
	SampleRate int
	Timestamp  time.Time
}

// UtteranceAudioUnit is a flushed phrase ready for transcription
type UtteranceAudioUnit struct {
	SessionID        string
	Channel          Channel
	Audio            []byte // WAV container, PCM16 mono
	SampleRate       int
	DurationMs       int64
	AverageVolume    float64
	HasVoiceActivity bool
	StartMs          int64
	EndMs            int64
}

// TranscriptSource records where the text of an utterance came from
type TranscriptSource string

const (
	SourceSTT      TranscriptSource = "stt"
	SourceFallback TranscriptSource = "fallback"
)

// TextUtterance is the transcription of one flushed phrase
type TextUtterance struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"sessionId"`
	Speaker    Channel          `json:"speaker"`
	Text       string           `json:"text"`
	Confidence float64          `json:"confidence"`
	StartMs    int64            `json:"startMs"`
	EndMs      int64            `json:"endMs"`
	IsFinal    bool             `json:"isFinal"`
	Source     TranscriptSource `json:"source"`
}

// IsFallback reports whether the text was synthesized instead of transcribed
func (u TextUtterance) IsFallback() bool {
	return u.Source == SourceFallback
}

// Phase is the stage of the consultation
type Phase string

const (
	PhaseHistory   Phase = "history"
	PhaseExam      Phase = "exam"
	PhaseDiagnosis Phase = "diagnosis"
	PhaseTreatment Phase = "treatment"
	PhaseClosing   Phase = "closing"
)

// Phases in consultation order
var Phases = []Phase{PhaseHistory, PhaseExam, PhaseDiagnosis, PhaseTreatment, PhaseClosing}

// ParsePhase parses s leniently, defaulting to history
func ParsePhase(s string) (Phase, bool) {
	v := Phase(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range Phases {
		if p == v {
			return p, true
		}
	}
	return PhaseHistory, false
}

// Level is the shared low..critical scale used for urgency and priority
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank orders levels, critical highest
func (l Level) Rank() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	}
	return 0
}

// ParseLevel parses s leniently, returning def when s is not a level
func ParseLevel(s string, def Level) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelLow:
		return LevelLow
	case LevelMedium:
		return LevelMedium
	case LevelHigh:
		return LevelHigh
	case LevelCritical:
		return LevelCritical
	}
	return def
}

// MaxLevel returns the higher of a and b
func MaxLevel(a, b Level) Level {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ContextSource records how a clinical context snapshot was derived
type ContextSource string

const (
	ContextFromLLM      ContextSource = "llm"
	ContextFromKeywords ContextSource = "keywords"
)

// ClinicalContext is the structured snapshot derived from the recent transcript
type ClinicalContext struct {
	Phase           Phase         `json:"phase"`
	Urgency         Level         `json:"urgency"`
	Symptoms        []string      `json:"symptoms"`
	MissingInfo     []string      `json:"missingInfo"`
	PatientConcerns []string      `json:"patientConcerns"`
	QuestionsAsked  []string      `json:"questionsAsked"`
	Notes           string        `json:"notes"`
	Source          ContextSource `json:"source"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// DefaultClinicalContext is the safe snapshot used before any analysis succeeds
func DefaultClinicalContext() ClinicalContext {
	return ClinicalContext{
		Phase:   PhaseHistory,
		Urgency: LevelLow,
		Source:  ContextFromKeywords,
	}
}

// IsEmpty reports whether nothing clinically relevant was detected
func (c ClinicalContext) IsEmpty() bool {
	return len(c.Symptoms) == 0 && len(c.PatientConcerns) == 0
}

// SuggestionType classifies a suggestion for the clinician
type SuggestionType string

const (
	SuggestionQuestion   SuggestionType = "question"
	SuggestionProtocol   SuggestionType = "protocol"
	SuggestionAlert      SuggestionType = "alert"
	SuggestionFollowup   SuggestionType = "followup"
	SuggestionAssessment SuggestionType = "assessment"
)

// ParseSuggestionType parses s leniently, defaulting to question
func ParseSuggestionType(s string) SuggestionType {
	switch v := SuggestionType(strings.ToLower(strings.TrimSpace(s))); v {
	case SuggestionQuestion, SuggestionProtocol, SuggestionAlert, SuggestionFollowup, SuggestionAssessment:
		return v
	}
	return SuggestionQuestion
}

// Suggestion is one actionable hint for the clinician
type Suggestion struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	UtteranceID string         `json:"utteranceId,omitempty"`
	Type        SuggestionType `json:"type"`
	Content     string         `json:"content"`
	Source      string         `json:"source"`
	Confidence  float64        `json:"confidence"`
	Priority    Level          `json:"priority"`
	Used        bool           `json:"used"`
	UsedAt      *time.Time     `json:"usedAt,omitempty"`
	UsedBy      string         `json:"usedBy,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// NormalizeSet lowercases, trims, de-duplicates and sorts values
func NormalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
