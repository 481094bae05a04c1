// Showcased - showcase channel enforcement bot.
// Watch. Decide. Enforce.
package main

func main() {
	Execute()
}
