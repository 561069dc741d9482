package llm

const classifyPromptTemplate = `You moderate comments on a business Instagram account.

Classify the comment into exactly one of these types:
{{range .Types}}- {{.}}
{{end}}
{{if .Parent}}The comment replies to this earlier comment:
"""{{.Parent}}"""
{{end}}
Comment{{if .Username}} by @{{.Username}}{{end}}:
"""{{.Text}}"""

Respond with only a JSON object:
{"type": "<one of the types above>", "confidence": <integer 0-100>, "reasoning": "<one sentence>"}`

const answerPromptTemplate = `You reply to customers on a business Instagram account.
Write a short, friendly and accurate reply in the language of the comment.
Do not invent prices, dates or promises. If you do not know, invite the customer to send a direct message.

The comment was classified as "{{.Type}}".

Comment{{if .Username}} by @{{.Username}}{{end}}:
"""{{.Text}}"""

Respond with only a JSON object:
{"answer": "<reply text>", "confidence": <number 0.0-1.0>, "quality_score": <integer 0-100>}`
