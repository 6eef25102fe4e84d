package models

const (
	// FallbackResponse is returned when the knowledge base is not relevant to the query.
	FallbackResponse = "I'm sorry, but my knowledge is focused on providing support for eco-anxiety and related topics. I can't answer questions outside of that scope. How are you feeling today?"

	// EmergencyResponse is returned, unmodified, whenever crisis language is detected.
	EmergencyResponse = "It sounds like you are going through a lot right now. " +
		"It's important to talk to a person who can support you. " +
		"Please reach out to a crisis hotline or mental health professional. " +
		"You can connect with people who can support you by calling or texting 988 anytime in the US and Canada. In the UK, you can call 111."

	WelcomeMessage = "Welcome to the Eco-Anxiety AI Counselor API"

	ContextSeparator = "\n---\n"

	MetadataSource         = "source"
	MetadataPageNumber     = "page_number"
	MetadataChunkID        = "chunk_id"
	MetadataEmbeddingModel = "embedding_model"
)

// EmergencyKeywords are matched case-insensitively as substrings of the query.
var EmergencyKeywords = []string{
	"suicide",
	"kill myself",
	"hopeless",
	"can't go on",
	"end my life",
	"self-harm",
	"panic attack",
	"i want to die",
}

var (
	AnswerSystemTemplate = `You are a compassionate assistant supporting people who experience eco-anxiety.
Use the following pieces of context to answer the user's question. If you don't know the answer, just say that you don't know, don't try to make up an answer.

<context>
{{.context}}
</context>`

	CondenseQuestionTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Chat History:
{{.chat_history}}
Follow Up Input: {{.question}}
Standalone question:`
)
