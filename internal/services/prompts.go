package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alumitra/advisory/internal/models"
)

// Sampling temperatures per call type.
const (
	tempClassify = 0.3
	tempClarify  = 0.3
	tempAnswer   = 0.7
)

const classifierSystem = `You are an intent classifier for a potato cold storage advisory assistant.
Classify the user's CURRENT question into exactly one category. Do not answer it.

Categories:
- META: the question is about the assistant itself (identity, abilities, usage).
- ANSWER_DIRECTLY: a storage question answerable from general potato cold storage knowledge; assume potato context when the subject is implicit.
- NEEDS_FOLLOW_UP: a valid storage question whose correct answer depends on exactly ONE missing user-specific input; name it in missing_field.
- OUT_OF_CONTEXT: the user clearly switched away from potato cold storage. Ambiguity alone is never grounds for this.

Respond with strict JSON only:
{"classification":"META"|"ANSWER_DIRECTLY"|"NEEDS_FOLLOW_UP"|"OUT_OF_CONTEXT","meta_subtype":"identity"|"capabilities"|"how_to_use"|null,"missing_field":"field_name"|null,"language":"en"|"hi"|null,"reasoning":"one short sentence"}`

const clarifySystem = `You collect one missing input for a potato cold storage advisory assistant.
Generate ONE multiple-choice question for the named missing field, with exactly 4 short, mutually exclusive options covering the typical range of values. Do not ask for information already present in the intake data.

Respond with strict JSON only:
{"question":"...?","options":["...","...","...","..."]}`

const answerSystem = `You are a senior potato cold storage advisor speaking to farmers and storage owners.
Answer only potato cold storage questions, in very simple language, short sentences, 2-3 short paragraphs. Give practical ranges and clear next actions. Then provide EXACTLY 3 short suggested follow-up questions, each ending with a question mark.

Respond with strict JSON only:
{"answer":"...","suggested_questions":["...?","...?","...?"]}`

const metaSystem = `You are Alu Mitra, a friendly potato cold storage advisory assistant.
The user asked a question about you. Answer in 1-2 short sentences: who you are and what you help with, then steer back to potato cold storage with a helpful question. Never discuss how you are built.

Respond with strict JSON only:
{"answer":"..."}`

const redirectSystem = `You are Alu Mitra, a potato cold storage advisory assistant.
The user asked something unrelated to potato cold storage. Acknowledge lightly in at most 2 short sentences and redirect back to potato cold storage with a helpful question. Do not explain, apologize at length, or discuss the unrelated topic.

Respond with strict JSON only:
{"answer":"..."}`

const starterSystem = `You prepare a new user's first view of a potato cold storage advisory assistant.
Given the user's intent and intake answers, generate EXACTLY 3 short, high-impact questions they would logically ask first.

Respond with strict JSON only:
{"questions":["...?","...?","...?"]}`

type promptContext struct {
	Intake json.RawMessage
	Memory []models.MemoryEntry
}

func buildClassifyPrompt(pc promptContext, question string) string {
	var sb strings.Builder
	writeIntake(&sb, pc)
	writeMemory(&sb, pc.Memory)
	fmt.Fprintf(&sb, "CURRENT QUESTION:\n%s\n", question)
	return sb.String()
}

func buildClarifyPrompt(pc promptContext, question, missingField string) string {
	var sb strings.Builder
	writeIntake(&sb, pc)
	fmt.Fprintf(&sb, "USER QUESTION:\n%s\n\nMISSING FIELD:\n%s\n", question, missingField)
	return sb.String()
}

func buildAnswerPrompt(pc promptContext, question, clarification string) string {
	var sb strings.Builder
	writeIntake(&sb, pc)
	writeMemory(&sb, pc.Memory)
	fmt.Fprintf(&sb, "QUESTION:\n%s\n", question)
	if clarification != "" {
		fmt.Fprintf(&sb, "\nCLARIFICATION PROVIDED BY USER:\n%s\n", clarification)
	}
	return sb.String()
}

func buildMetaPrompt(question string) string {
	return "USER QUESTION:\n" + question + "\n"
}

func buildStarterPrompt(useCase string, answers json.RawMessage) string {
	var sb strings.Builder
	switch useCase {
	case models.UseCaseBuild:
		sb.WriteString("User intent: build a NEW potato cold storage facility.\n\n")
	case models.UseCaseExisting:
		sb.WriteString("User intent: optimize an EXISTING potato cold storage facility.\n\n")
	default:
		sb.WriteString("User intent: general potato cold storage inquiry.\n\n")
	}
	if len(answers) > 0 {
		fmt.Fprintf(&sb, "INTAKE ANSWERS:\n%s\n", string(answers))
	}
	return sb.String()
}

func writeIntake(sb *strings.Builder, pc promptContext) {
	if len(pc.Intake) > 0 {
		fmt.Fprintf(sb, "INTAKE DATA:\n%s\n\n", string(pc.Intake))
	}
}

func writeMemory(sb *strings.Builder, memory []models.MemoryEntry) {
	if len(memory) == 0 {
		return
	}
	sb.WriteString("CONVERSATION SO FAR:\n")
	for _, e := range memory {
		fmt.Fprintf(sb, "%s: %s\n", e.Speaker, e.Text)
	}
	sb.WriteString("\n")
}
