package main

import "github.com/sangram0022/user-mn-go/cmd/usermn/cmd"

func main() {
	cmd.Execute()
}
