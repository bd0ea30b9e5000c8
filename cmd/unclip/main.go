// Command unclip watches a Gmail tab and expands clipped messages. It also
// runs the license backend and manages local settings.
package main

func main() {
	Execute()
}
