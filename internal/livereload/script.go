package livereload

import (
	"encoding/json"
	"fmt"
)

// DefaultPath is where the server mounts the hub.
const DefaultPath = "/__livereload"

// Script returns head markup that connects to the hub at path and reloads
// the page after a successful recompilation.
func Script(path string) string {
	if path == "" {
		path = DefaultPath
	}
	p, _ := json.Marshal(path)
	return fmt.Sprintf(`<script>(function(){`+
		`var proto=location.protocol==="https:"?"wss://":"ws://";`+
		`var ws=new WebSocket(proto+location.host+%s);`+
		`ws.onmessage=function(ev){var m=JSON.parse(ev.data);`+
		`if(m.type==="loaded"){location.reload();}`+
		`else if(m.type==="error"){console.error("tagserve: "+m.path+": "+m.error);}};`+
		`})();</script>`, p)
}
