package models

import (
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventTypeAutomatedTest         EventType = "AutomatedTestResult"
	EventTypeCommunityVerification EventType = "CommunityVerification"
	EventTypeCommunityTip          EventType = "CommunityTip"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeAutomatedTest, EventTypeCommunityVerification, EventTypeCommunityTip:
		return true
	}
	return false
}

// UTCTime is a time.Time that tolerates timestamps with or without a zone
// offset on the wire and always normalizes to UTC. Upstream producers emit
// both forms; decay math must see a single time reference.
type UTCTime struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

func (t *UTCTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t UTCTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}

func NewUTCTime(t time.Time) UTCTime {
	return UTCTime{Time: t.UTC()}
}

// VerificationEvent is the closed set of signal kinds the scoring engine
// understands. The union is sealed: only the three variants below implement
// the unexported marker, so a type switch over them is exhaustive.
type VerificationEvent interface {
	Type() EventType
	PromotionID() string
	OccurredAt() time.Time

	isVerificationEvent()
}

// AutomatedTestResult is a signal from the automated checkout test system.
type AutomatedTestResult struct {
	PromotionRef    string  `json:"promotionId"`
	MerchantID      int64   `json:"merchantId"`
	Success         bool    `json:"success"`
	DiscountValue   float64 `json:"discountValue"`
	Timestamp       UTCTime `json:"timestamp"`
	TestDuration    int64   `json:"testDuration,omitempty"`
	TestEnvironment string  `json:"testEnvironment,omitempty"`
	ErrorMessage    string  `json:"errorMessage,omitempty"`
}

func (e AutomatedTestResult) Type() EventType       { return EventTypeAutomatedTest }
func (e AutomatedTestResult) PromotionID() string   { return e.PromotionRef }
func (e AutomatedTestResult) OccurredAt() time.Time { return e.Timestamp.Time }
func (e AutomatedTestResult) isVerificationEvent()  {}

// CommunityVerification is a manual spot-check by a community verifier.
type CommunityVerification struct {
	PromotionRef       string  `json:"promotionId"`
	VerifierID         string  `json:"verifierId"`
	VerifierReputation int     `json:"verifierReputationScore"`
	IsValid            bool    `json:"isValid"`
	Timestamp          UTCTime `json:"timestamp"`
	VerificationMethod string  `json:"verificationMethod,omitempty"`
	Notes              string  `json:"notes,omitempty"`
}

func (e CommunityVerification) Type() EventType       { return EventTypeCommunityVerification }
func (e CommunityVerification) PromotionID() string   { return e.PromotionRef }
func (e CommunityVerification) OccurredAt() time.Time { return e.Timestamp.Time }
func (e CommunityVerification) isVerificationEvent()  {}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// StructuredTipData is the normalized judgment extracted from a free-text
// tip. Produced once per tip and immutable afterwards.
type StructuredTipData struct {
	Conditions    []string  `json:"conditions"`
	Exclusions    []string  `json:"exclusions"`
	Effectiveness int       `json:"effectiveness"` // 1=broken, 5=neutral, 10=works perfectly
	Confidence    int       `json:"confidence"`    // 1=very uncertain, 10=very confident
	Sentiment     Sentiment `json:"sentiment"`
	KeyPhrases    []string  `json:"keyPhrases"`
}

// CommunityTip is free-text user feedback about a promotion. StructuredData
// and ConfidenceScore are populated by the tip extractor before scoring.
type CommunityTip struct {
	PromotionRef    string             `json:"promotionId"`
	TipText         string             `json:"tipText"`
	UserID          string             `json:"userId,omitempty"`
	UserReputation  *int               `json:"userReputation,omitempty"`
	Timestamp       UTCTime            `json:"timestamp"`
	StructuredData  *StructuredTipData `json:"structuredData,omitempty"`
	ConfidenceScore float64            `json:"confidenceScore,omitempty"`
}

func (e CommunityTip) Type() EventType       { return EventTypeCommunityTip }
func (e CommunityTip) PromotionID() string   { return e.PromotionRef }
func (e CommunityTip) OccurredAt() time.Time { return e.Timestamp.Time }
func (e CommunityTip) isVerificationEvent()  {}

// Reputation returns the user reputation, defaulting to 50 when the tip
// arrived anonymous.
func (e CommunityTip) Reputation() int {
	if e.UserReputation == nil {
		return 50
	}
	return *e.UserReputation
}
