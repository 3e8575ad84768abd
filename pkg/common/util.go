//
//  Copyright © Manetu Inc. All rights reserved.
//

package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// PrettyPrint outputs a readable JSON representation of the provided data structure to stdout.
func PrettyPrint(data interface{}) {
	Fprint(os.Stdout, data)
}

// Fprint writes an indented JSON representation of data to w.
func Fprint(w io.Writer, data interface{}) {
	p, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintln(w, err)
		return
	}
	_, _ = fmt.Fprintf(w, "%s\n", p)
}
