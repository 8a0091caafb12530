package main

import radio "github.com/SaemsCodes/offline-radio"

func main() {
	radio.Main()
}
