package genmail

import (
	"fmt"
	"strings"

	"refermail/internal/llm"
	"refermail/internal/profile"
)

// emailSchema 要求主题与正文都存在且非空。
const emailSchema = `{
  "type": "object",
  "properties": {
    "subject": {"type": "string", "minLength": 1},
    "body": {"type": "string", "minLength": 1}
  },
  "required": ["subject", "body"]
}`

// EmailShape 返回生成邮件的结构约束。
func EmailShape() llm.Shape {
	return llm.Shape{Name: "generated_email", Schema: emailSchema}
}

// senderContext 把用户画像渲染为 Prompt 片段。
func senderContext(skills []profile.Skill, experiences []profile.Experience, education string) string {
	var b strings.Builder

	if len(skills) > 0 {
		names := make([]string, 0, len(skills))
		for _, s := range skills {
			names = append(names, s.Name)
		}
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(names, ", "))
	}
	for _, e := range experiences {
		fmt.Fprintf(&b, "Experience: %s at %s", e.Role, e.Company)
		if e.Start != "" || e.End != "" {
			fmt.Fprintf(&b, " (%s - %s)", e.Start, e.End)
		}
		if e.Description != "" {
			fmt.Fprintf(&b, ": %s", e.Description)
		}
		b.WriteString("\n")
	}
	if education != "" {
		fmt.Fprintf(&b, "Education: %s\n", education)
	}
	if b.Len() == 0 {
		b.WriteString("(no profile on file)\n")
	}
	return b.String()
}

func buildColdPrompt(req GenerationRequest, sender string) string {
	var b strings.Builder
	b.WriteString("Write a short, personable cold outreach email asking for a job referral.\n\n")
	fmt.Fprintf(&b, "Recipient: %s", req.ContactName)
	if req.ContactRole != "" {
		fmt.Fprintf(&b, ", %s", req.ContactRole)
	}
	fmt.Fprintf(&b, " at %s.\n\n", req.CompanyName)
	b.WriteString("About the sender:\n")
	b.WriteString(sender)
	if req.Template != "" {
		b.WriteString("\nUse this saved template as a starting point, keeping its tone:\n")
		b.WriteString(req.Template)
		b.WriteString("\n")
	}
	b.WriteString("\nKeep it under 150 words. Do not fabricate qualifications.")
	return b.String()
}

func buildTailoredPrompt(req GenerationRequest, sender string) string {
	var b strings.Builder
	b.WriteString(buildColdPrompt(req, sender))
	b.WriteString("\n\nThe sender is asking about these specific openings: ")
	b.WriteString(strings.Join(req.JobIDs, ", "))
	b.WriteString(".\nJob description:\n")
	b.WriteString(req.JobDescription)
	b.WriteString("\nReference the role's requirements and match them against the sender's background.")
	return b.String()
}

// threadTranscript 以时间顺序渲染线程历史，视角改写为 Me / Contact。
func threadTranscript(history []transcriptMessage) string {
	var b strings.Builder
	for _, m := range history {
		speaker := "Contact"
		if m.FromUser {
			speaker = "Me"
		}
		fmt.Fprintf(&b, "%s: %s\n%s\n\n", speaker, m.Subject, m.Body)
	}
	return b.String()
}

func buildFollowupPrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("Below is an outreach email thread in chronological order. ")
	b.WriteString("Messages marked \"Me\" were written by the sender; \"Contact\" is the other party.\n\n")
	b.WriteString(transcript)
	b.WriteString("Write a polite follow-up email from Me continuing this thread. ")
	b.WriteString("Reference the earlier messages naturally and keep it under 120 words.")
	return b.String()
}

func buildThankyouPrompt(last transcriptMessage) string {
	speaker := "the contact"
	if last.FromUser {
		speaker = "me"
	}
	return fmt.Sprintf(`Write a short thank-you email responding to an outreach conversation.
The most recent message (from %s) was:

Subject: %s
%s

Express genuine gratitude, keep it under 100 words, no new requests.`, speaker, last.Subject, last.Body)
}
