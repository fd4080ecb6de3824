package models

const (
	// QuestionHeaderRegex matches the start of a numbered entry such as "3. " or "12: ".
	QuestionHeaderRegex = `(\d+)[.:]\s*`
	// QuestionDelimiterRegex marks where the body of a numbered entry ends.
	QuestionDelimiterRegex = `\n\d+[.:]`
	// NumberedQuestionRegex routes inputs like "5 question" to the question map.
	NumberedQuestionRegex = `^(\d+)\s*question`
	ThinkTag              = `(?s)<think>.*?</think>`
	ContextSeparator      = "\n\n"
	DefaultCollection     = "pdf_docs"
	MetaPageNumber        = "page_number"
	MetaPage              = "page"
	MetaFileName          = "file_name"
	MetaSource            = "source"
	MetaChunkIndex        = "chunk_index"
	MetaTotalPages        = "total_pages"
	SourceText            = "text"
	SourceOCR             = "ocr"
	NotFoundQuestion      = "Question %d not found in PDF."
	NoRelevantContent     = "No relevant content found in PDF."
)

var (
	RerankPromptTemplate = `You are ranking text chunks for relevance.

User Question: %s

Candidate Chunks:
%s

Task: Select the %d chunks most relevant to the question. Return only their numbers (e.g., 0,2,5).`

	SummaryPromptTemplate = `You are an AI assistant. The user asked: "%s"

Relevant text chunks:
%s

Instructions:
- Summarize concisely
- Use bullet points or sections
- Only include content from the provided text
`

	OCRPromptTemplate = `Transcribe all readable text of this PDF document, page by page, in reading order.
Do not summarize or translate. Start every page with a line containing exactly %s followed by the page number.`

	OCRPageMarker = "<<<PAGE>>>"

	// FrontMatterKeywords are words that point a question at the first pages of a document.
	FrontMatterKeywords = []string{"preface", "acknowledgments", "acknowledgements", "introduction"}
)
