package app

// Store backends compiled into every memsync binary.
import (
	_ "github.com/flemzord/memsync/modules/graph/sqlite"
	_ "github.com/flemzord/memsync/modules/history/sqlite"
	_ "github.com/flemzord/memsync/modules/llm/openai"
	_ "github.com/flemzord/memsync/modules/vector/chromem"
)
