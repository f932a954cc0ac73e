package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/defensight/defensight/engine/assembler"
	"github.com/defensight/defensight/engine/completion"
	"github.com/defensight/defensight/pkg/logger"
)

// Mode selects the report audience.
type Mode string

const (
	ModeTechnical Mode = "technical"
	ModeExecutive Mode = "executive"
)

// minEvidenceChars is the floor under which no report is generated.
const minEvidenceChars = 200

const reportSystemPrompt = "You are a senior security analyst. Be thorough, specific, and actionable. " +
	"Use evidence from the provided context."

const technicalQuery = "Analyze all security logs, configurations, IDS alerts, certificates, " +
	"and threats for technical security report"

const executiveQuery = "Summarize top security risks, threats, compliance issues, " +
	"and critical findings for executive review"

const technicalInstructions = `Generate a comprehensive TECHNICAL SECURITY REPORT with these sections:

## 1. Threat Analysis
- Active threats and attack patterns
- IDS/IPS alerts with severity
- Attack sources and techniques
- Timeline of significant events

## 2. Network Security
- Traffic patterns and anomalies
- Suspicious connections
- Protocol analysis
- Port scanning activities

## 3. Configuration Review
- Firewall rules analysis
- Misconfigurations
- Compliance gaps
- Policy violations

## 4. Certificate & Encryption
- SSL/TLS status
- Certificate issues
- Encryption weaknesses

## 5. Risk Assessment
- Critical vulnerabilities
- Exploitable weaknesses
- Business impact

## 6. Recommendations
- Immediate actions (Priority 1)
- Short-term fixes (Priority 2)
- Long-term improvements (Priority 3)

Include specific IPs, ports, timestamps, and evidence from the logs.`

const executiveInstructions = `Generate a concise EXECUTIVE SUMMARY for C-level leadership:

## Security Posture
Current security health and key metrics

## Critical Findings
Top 3-5 most critical issues and business impact

## Threat Summary
Active threats and attack attempts

## Compliance Status
Regulatory gaps and audit findings

## Recommendations
Immediate actions, resources needed, timeline, and ROI

Use clear, non-technical language. Focus on business risk and decisions.`

// Completer is the propagating completion path; report generation is a batch
// operation and surfaces terminal failures to its caller.
type Completer interface {
	Complete(ctx context.Context, messages []completion.Message) (string, error)
}

// Options carries the report call site's retrieval parameters.
type Options struct {
	TopK           int
	MaxTokens      int
	PerCategoryCap int
	TopSources     int
}

// Generator produces single-pass security reports from indexed evidence.
type Generator struct {
	assembler *assembler.Service
	client    Completer
	opts      Options
}

func NewGenerator(asm *assembler.Service, client Completer, opts Options) (*Generator, error) {
	if asm == nil {
		return nil, errors.New("report: assembler is required")
	}
	if client == nil {
		return nil, errors.New("report: completion client is required")
	}
	return &Generator{assembler: asm, client: client, opts: opts}, nil
}

// Generate assembles evidence for the mode's retrieval query and asks the
// model for a full report. Too little evidence yields a fixed notice without
// a model call.
func (g *Generator) Generate(ctx context.Context, mode Mode) (string, error) {
	query, instructions, err := modePrompts(mode)
	if err != nil {
		return "", err
	}
	log := logger.FromContext(ctx).With("mode", string(mode))
	log.Info("generating report")
	bundle := g.assembler.Assemble(ctx, query, assembler.Options{
		TopK:           g.opts.TopK,
		MaxTokens:      g.opts.MaxTokens,
		PerCategoryCap: g.opts.PerCategoryCap,
		TopSources:     g.opts.TopSources,
	})
	if bundle.Empty() || len(bundle.Text) < minEvidenceChars {
		log.Warn("insufficient evidence for report", "context_chars", len(bundle.Text))
		return fmt.Sprintf(
			"**No data available** to generate %s summary. Please upload and index security logs first.",
			mode,
		), nil
	}
	prompt := fmt.Sprintf(
		"===SECURITY DATA===\n%s\n\n===TASK===\n%s\n\nGenerate a complete report with all sections. "+
			"Include specific findings and evidence.",
		bundle.Text,
		instructions,
	)
	reply, err := g.client.Complete(ctx, []completion.Message{
		{Role: completion.RoleSystem, Content: reportSystemPrompt},
		{Role: completion.RoleUser, Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("report: generate %s: %w", mode, err)
	}
	return reply, nil
}

func modePrompts(mode Mode) (query string, instructions string, err error) {
	switch mode {
	case ModeTechnical:
		return technicalQuery, technicalInstructions, nil
	case ModeExecutive:
		return executiveQuery, executiveInstructions, nil
	default:
		return "", "", fmt.Errorf("report: mode %q is not supported", mode)
	}
}
