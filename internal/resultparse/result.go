// Package resultparse turns agent task output into typed contact records.
//
// Providers return output in several incompatible shapes: an array of chat
// messages whose content blocks may reference an output file, a plain string
// holding JSON (sometimes wrapped in prose or fences), or a JSON value with
// contacts at one of a few known paths. Parse tries an ordered list of
// decoders; the first that recognizes the shape wins. Parse is total: it
// never returns an error and never panics.
package resultparse

import (
	"fmt"
	"strconv"
	"strings"
)

// Shape names the output shape that produced a Result.
type Shape string

const (
	ShapeEmpty        Shape = "empty"
	ShapeMessages     Shape = "messages"
	ShapeMessagesFile Shape = "messages_file"
	ShapeString       Shape = "string"
	ShapeObject       Shape = "object"
	ShapeObjectFile   Shape = "object_file"
	ShapeArray        Shape = "array"
	ShapeText         Shape = "text"
	ShapeUnknown      Shape = "unknown"
)

// Contact is a person as reported by the agent, before normalization.
type Contact struct {
	FullName    string `json:"full_name"`
	JobTitle    string `json:"job_title"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	LinkedInURL string `json:"linkedin_url"`
}

// Result is the outcome of parsing one agent output.
type Result struct {
	Contacts     []Contact      `json:"contacts"`
	CompanyInfo  map[string]any `json:"company_info,omitempty"`
	SearchMethod string         `json:"search_method,omitempty"`
	Error        string         `json:"error,omitempty"`
	Shape        Shape          `json:"shape"`
}

var contactKeys = map[string][]string{
	"full_name":    {"full_name", "name", "fullName"},
	"job_title":    {"job_title", "title", "jobTitle", "position"},
	"email":        {"email", "email_address"},
	"phone":        {"phone", "phone_number", "telephone"},
	"linkedin_url": {"linkedin_url", "linkedin", "linkedinUrl", "linkedin_profile"},
}

// LooksLikeContact reports whether v is an object carrying any of a name,
// LinkedIn URL, job title or email.
func LooksLikeContact(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	c := contactFromMap(m)
	return c.FullName != "" || c.LinkedInURL != "" || c.JobTitle != "" || c.Email != ""
}

// contactsFrom filters a decoded JSON value down to the elements that look
// like contacts. Non-array values yield nil.
func contactsFrom(v any) []Contact {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []Contact
	for _, el := range arr {
		if !LooksLikeContact(el) {
			continue
		}
		out = append(out, contactFromMap(el.(map[string]any)))
	}
	return out
}

func contactFromMap(m map[string]any) Contact {
	return Contact{
		FullName:    firstString(m, contactKeys["full_name"]...),
		JobTitle:    firstString(m, contactKeys["job_title"]...),
		Email:       firstString(m, contactKeys["email"]...),
		Phone:       firstString(m, contactKeys["phone"]...),
		LinkedInURL: firstString(m, contactKeys["linkedin_url"]...),
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := scalarString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool, nil:
		return ""
	case map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
