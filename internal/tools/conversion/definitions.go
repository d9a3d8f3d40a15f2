package conversion

import (
	"github.com/sammcj/mcp-markdownify/internal/converters"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sammcj/mcp-markdownify/internal/tools"
)

type paramKind int

const (
	kindString paramKind = iota
	kindBool
	kindNumber
)

type param struct {
	name        string
	kind        paramKind
	description string
	enum        []string
}

type toolSpec struct {
	description string
	// sourceArg is the required argument carrying the path or URL
	sourceArg string
	sourceDoc string
	params    []param
	openWorld bool
	help      *tools.ExtendedHelp
}

var engineParam = param{
	name:        "engine",
	kind:        kindString,
	description: "Conversion engine: 'native' (default, built-in) or 'markitdown' (runs the markitdown CLI through uv)",
	enum:        []string{converters.EngineNative, converters.EngineMarkitdown},
}

const (
	fileSourceDoc = "Absolute path to the file, or an http(s) URL to download it from"
	webSourceDoc  = "The http(s) URL to convert"
)

var engineTip = tools.TroubleshootingTip{
	Problem:  "engine=markitdown fails with 'uv not found'",
	Solution: "Install uv or set UV_PATH to its location. Run 'mcp-markdownify doctor' to check.",
}

var specs = map[markdownify.Operation]toolSpec{
	markdownify.OpPDF: {
		description: "Convert a PDF document to Markdown. Extracts the text layer page by page.",
		sourceArg:   "filepath",
		sourceDoc:   fileSourceDoc,
		params: []param{
			{name: "pages", kind: kindString, description: "Pages to convert, e.g. '1-3,7' (default: all)"},
			engineParam,
		},
		help: &tools.ExtendedHelp{
			WhenToUse:    "Reading the text of a PDF report, paper or manual",
			WhenNotToUse: "Scanned PDFs without a text layer, which contain only images",
			Examples: []tools.ToolExample{
				{
					Description:    "Convert the first three pages of a report",
					Arguments:      map[string]any{"filepath": "/home/me/report.pdf", "pages": "1-3"},
					ExpectedResult: "Markdown with a '## Page N' section per page",
				},
			},
			ParameterDetails: map[string]string{
				"pages": "Comma separated page numbers and ranges, 1-based. 'all' converts every page.",
			},
			Troubleshooting: []tools.TroubleshootingTip{
				{Problem: "File exceeds maximum allowed size", Solution: "Raise PDF_MAX_FILE_SIZE (bytes)"},
				engineTip,
			},
		},
	},
	markdownify.OpImage: {
		description: "Describe an image as Markdown: format, dimensions, file size and EXIF metadata such as camera and GPS position.",
		sourceArg:   "filepath",
		sourceDoc:   fileSourceDoc,
		params:      []param{engineParam},
		help: &tools.ExtendedHelp{
			WhenToUse: "Checking image dimensions or photo metadata",
			Examples: []tools.ToolExample{
				{
					Description: "Inspect a holiday photo",
					Arguments:   map[string]any{"filepath": "/home/me/photo.jpg"},
				},
			},
			Troubleshooting: []tools.TroubleshootingTip{
				{Problem: "Unsupported or corrupt image", Solution: "Supported formats are PNG, JPEG, GIF, BMP, TIFF and WebP"},
			},
		},
	},
	markdownify.OpAudio: {
		description: "Convert an audio file to Markdown: tag metadata plus a speech transcript when the markitdown CLI is available.",
		sourceArg:   "filepath",
		sourceDoc:   fileSourceDoc,
		params: []param{
			{name: "transcribe", kind: kindBool, description: "Transcribe speech with markitdown (default: true)"},
			engineParam,
		},
		help: &tools.ExtendedHelp{
			WhenToUse: "Getting the title, artist and spoken content of a recording",
			ParameterDetails: map[string]string{
				"transcribe": "Transcription runs markitdown through uv and can take minutes for long recordings",
			},
			Troubleshooting: []tools.TroubleshootingTip{
				{Problem: "No transcript section", Solution: "Transcription failed or uv is missing, check the server log"},
				engineTip,
			},
		},
	},
	markdownify.OpDOCX: {
		description: "Convert a Word (.docx) document to Markdown, keeping headings, lists, emphasis, links and tables.",
		sourceArg:   "filepath",
		sourceDoc:   fileSourceDoc,
		params:      []param{engineParam},
		help: &tools.ExtendedHelp{
			WhenToUse:    "Reading Word documents",
			WhenNotToUse: "Legacy binary .doc files, use engine=markitdown or convert them to .docx first",
			Troubleshooting: []tools.TroubleshootingTip{
				{Problem: "Not a Word document", Solution: "The file is not an Office Open XML package"},
				engineTip,
			},
		},
	},
	markdownify.OpXLSX: {
		description: "Convert an Excel (.xlsx) workbook to Markdown, one table per sheet.",
		sourceArg:   "filepath",
		sourceDoc:   fileSourceDoc,
		params: []param{
			{name: "sheet", kind: kindString, description: "Only convert this sheet (default: all sheets)"},
			{name: "max_rows", kind: kindNumber, description: "Maximum rows per sheet (default: 10000)"},
			engineParam,
		},
		help: &tools.ExtendedHelp{
			WhenToUse: "Reading spreadsheet data as tables",
			Examples: []tools.ToolExample{
				{
					Description: "Convert one sheet, first 100 rows",
					Arguments:   map[string]any{"filepath": "/home/me/budget.xlsx", "sheet": "2025", "max_rows": 100},
				},
			},
			Troubleshooting: []tools.TroubleshootingTip{
				{Problem: "sheet not found", Solution: "The error lists the available sheet names"},
			},
		},
	},
	markdownify.OpPPTX: {
		description: "Convert a PowerPoint (.pptx) presentation to Markdown: slide titles, text, tables, image alt text and speaker notes.",
		sourceArg:   "filepath",
		sourceDoc:   fileSourceDoc,
		params: []param{
			{name: "notes", kind: kindBool, description: "Include speaker notes (default: true)"},
			engineParam,
		},
		help: &tools.ExtendedHelp{
			WhenToUse: "Reading slide decks",
			Troubleshooting: []tools.TroubleshootingTip{
				engineTip,
			},
		},
	},
	markdownify.OpYouTube: {
		description: "Convert a YouTube video to Markdown: title, channel, description and transcript.",
		sourceArg:   "url",
		sourceDoc:   "YouTube video URL (watch, youtu.be, shorts, embed or live)",
		openWorld:   true,
		params: []param{
			{name: "language", kind: kindString, description: "Preferred transcript language code (default: en)"},
			{name: "timestamps", kind: kindBool, description: "Prefix transcript lines with their start time (default: false)"},
			{name: "transcript", kind: kindBool, description: "Include the transcript (default: true)"},
		},
		help: &tools.ExtendedHelp{
			WhenToUse: "Summarising or quoting a video without watching it",
			Examples: []tools.ToolExample{
				{
					Description: "Timestamped transcript",
					Arguments:   map[string]any{"url": "https://youtu.be/dQw4w9WgXcQ", "timestamps": true},
				},
			},
			ParameterDetails: map[string]string{
				"language": "Falls back to a regional variant, then to any manual track, then to any track",
			},
			Troubleshooting: []tools.TroubleshootingTip{
				{Problem: "No transcript section", Solution: "The video has no captions, or YouTube refused the caption request"},
			},
		},
	},
	markdownify.OpBing: {
		description: "Convert a Bing search results page to Markdown, with redirect links decoded to their destinations.",
		sourceArg:   "url",
		sourceDoc:   "Bing search URL, e.g. https://www.bing.com/search?q=golang",
		openWorld:   true,
		help: &tools.ExtendedHelp{
			WhenToUse: "Running a quick web search",
			Examples: []tools.ToolExample{
				{
					Description: "Search for Go release notes",
					Arguments:   map[string]any{"url": "https://www.bing.com/search?q=go+1.25+release+notes"},
				},
			},
			Troubleshooting: []tools.TroubleshootingTip{
				{Problem: "Searches are slow", Solution: "Outbound searches are paced at SEARCH_RATE_LIMIT requests per second"},
			},
		},
	},
	markdownify.OpWebpage: {
		description: "Fetch a web page and convert it to Markdown. Extracts the main article content by default. PDF URLs are converted as PDFs.",
		sourceArg:   "url",
		sourceDoc:   webSourceDoc,
		openWorld:   true,
		params: []param{
			{name: "readability", kind: kindBool, description: "Extract the main content only (default: true)"},
		},
		help: &tools.ExtendedHelp{
			WhenToUse:    "Reading documentation, articles and blog posts",
			WhenNotToUse: "Binary downloads such as images or Office files, use the matching file tool with the URL",
			ParameterDetails: map[string]string{
				"readability": "Set false to convert the whole page including navigation. A #fragment in the URL limits output to that section.",
			},
			Troubleshooting: []tools.TroubleshootingTip{
				{Problem: "potentially dangerous, aborting", Solution: "Private and loopback addresses are blocked unless allow_private_networks is set in the config file"},
			},
		},
	},
	markdownify.OpGetMarkdownFile: {
		description: "Read an existing Markdown file, such as one written by an earlier conversion.",
		sourceArg:   "filepath",
		sourceDoc:   "Absolute path to a .md or .markdown file",
		help: &tools.ExtendedHelp{
			WhenToUse: "Re-reading a conversion result by the path it returned",
			Troubleshooting: []tools.TroubleshootingTip{
				{Problem: "Only files in <dir> are allowed", Solution: "MD_SHARE_DIR restricts reads to that directory"},
			},
		},
	},
}
