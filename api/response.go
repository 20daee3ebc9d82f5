// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/appcues/appcues-sdk-go/experience"
)

// QualifyResponse is the decoded result of a qualification request,
// from either the HTTP qualify endpoint or the socket reply.
type QualifyResponse struct {
	// RequestID is the id of the activity that produced this
	// response, for correlation with the durable store and metrics.
	RequestID uuid.UUID

	// Experiences holds every element that decoded cleanly, in the
	// server's priority order.
	Experiences []*experience.Experience

	// Failed holds the skeletons of elements that did not decode.
	Failed []experience.FailedExperience

	// PerformedQualification is false when the server skipped
	// qualification (e.g. the request only carried identity updates).
	PerformedQualification bool

	// QualificationReason is why qualification ran ("screen_view",
	// "event_trigger", "forced"), when the server reports one.
	QualificationReason string

	// Experiments are the experiment entries paired with the
	// qualified experiences.
	Experiments []experience.Experiment
}

// qualifyEnvelope is the wire shape shared by the HTTP endpoint
// ("experiences" key) and the socket reply ("content" key).
type qualifyEnvelope struct {
	Experiences            []json.RawMessage       `json:"experiences"`
	Content                []json.RawMessage       `json:"content"`
	PerformedQualification *bool                   `json:"performedQualification"`
	QualificationReason    string                  `json:"qualificationReason"`
	Experiments            []experience.Experiment `json:"experiments"`
}

// DecodeQualifyResponse decodes an HTTP qualify payload. Experience
// elements decode independently so a single malformed entry degrades
// to a FailedExperience skeleton instead of failing the response, and
// the position of valid entries is preserved.
func DecodeQualifyResponse(data []byte) (*QualifyResponse, error) {
	return decodeQualify(data, false)
}

// DecodeSocketQualifyResponse decodes a socket qualification reply.
// The socket payload carries experiences under "content" and omits
// performedQualification, which defaults to true.
func DecodeSocketQualifyResponse(data []byte) (*QualifyResponse, error) {
	return decodeQualify(data, true)
}

func decodeQualify(data []byte, socket bool) (*QualifyResponse, error) {
	var env qualifyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	elements := env.Experiences
	if socket {
		elements = env.Content
	}

	resp := &QualifyResponse{
		PerformedQualification: true,
		QualificationReason:    env.QualificationReason,
		Experiments:            env.Experiments,
	}
	if env.PerformedQualification != nil {
		resp.PerformedQualification = *env.PerformedQualification
	} else if !socket {
		resp.PerformedQualification = false
	}

	for _, raw := range elements {
		var e experience.Experience
		if err := json.Unmarshal(raw, &e); err != nil {
			resp.Failed = append(resp.Failed, experience.Skeleton(raw, err))
			continue
		}
		resp.Experiences = append(resp.Experiences, &e)
	}
	return resp, nil
}

// ExperimentFor returns the experiment entry for an experience id,
// if the response carried one.
func (r *QualifyResponse) ExperimentFor(e *experience.Experience) *experience.Experiment {
	for i := range r.Experiments {
		if r.Experiments[i].ExperienceID == e.ID {
			return &r.Experiments[i]
		}
	}
	return nil
}
