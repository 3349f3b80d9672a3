package bot

import "fmt"

// Severity selects the colour of a notice.
type Severity int

const (
	Info Severity = iota
	Success
	Warning
	Error
)

// Color returns the RGB colour used by chat embeds.
func (s Severity) Color() int {
	switch s {
	case Success:
		return 0x2ecc71
	case Warning:
		return 0xe67e22
	case Error:
		return 0xe74c3c
	default:
		return 0x3498db
	}
}

func (s Severity) String() string {
	switch s {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Notice is a structured chat message: title, body, severity and fields.
type Notice struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"-"`
	Fields      []Field  `json:"fields,omitempty"`
}

// Attachment is a local file uploaded with a message.
type Attachment struct {
	Name string
	Path string
}

// Message is what the dispatcher hands to a Session.
type Message struct {
	Notice     Notice
	Attachment *Attachment
}

const chartAttachmentName = "chart.png"

func processingNotice() Notice {
	return Notice{
		Title:       "Processing",
		Description: "Processing your request... Please wait.",
		Severity:    Info,
	}
}

func chartNotice(sourceURL string) Notice {
	return Notice{
		Title:       "TradingView Chart",
		Description: "Here's the requested chart:",
		Severity:    Success,
		Fields: []Field{
			{Name: "Chart Link", Value: fmt.Sprintf("[View Chart](%s)", sourceURL)},
		},
	}
}

func captureErrorNotice() Notice {
	return Notice{
		Title:       "Error",
		Description: "An error occurred while fetching the chart. Please try again later.",
		Severity:    Error,
	}
}

func cooldownNotice() Notice {
	return Notice{
		Title:       "Cooldown",
		Description: "Please wait a few seconds before trying again.",
		Severity:    Warning,
	}
}

func helpNotice() Notice {
	return Notice{
		Title:       "Help",
		Description: "Here are the available commands:",
		Severity:    Info,
		Fields: []Field{
			{Name: "!cme", Value: "Fetches the CME Bitcoin chart."},
			{Name: "!help", Value: "Shows this help message."},
		},
	}
}

func shutdownNotice() Notice {
	return Notice{
		Title:       "Shutdown",
		Description: "Bot is shutting down...",
		Severity:    Error,
	}
}

func stopDeniedNotice() Notice {
	return Notice{
		Title:       "Not allowed",
		Description: "You are not allowed to stop the bot.",
		Severity:    Warning,
	}
}
