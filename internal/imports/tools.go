// Package imports pulls in every tool package so their init functions register with the registry.
package imports

import (
	_ "github.com/sammcj/mcp-markdownify/internal/tools/conversion"
)
