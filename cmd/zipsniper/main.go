package main

import (
	"errors"
	"log"

	"github.com/nguyengg/zipsniper"
	"github.com/nguyengg/zipsniper/internal/cmd"
)

func main() {
	p, c := cmd.NewParser()

	args, err := p.Parse()
	if err == nil {
		if err = c.Execute(args); err != nil {
			var snfe *zipsniper.SignatureNotFoundError
			if errors.As(err, &snfe) {
				log.Printf("%v (use --comment-buffer)", err)
			} else {
				log.Printf("list error: %v", err)
			}
		}
	}

	exit(err)
}
