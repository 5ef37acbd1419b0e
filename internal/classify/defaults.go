package classify

// DefaultBackchannelWords returns the stock acknowledgement vocabulary.
func DefaultBackchannelWords() []string {
	return []string{
		"yeah", "yep", "yup", "yes", "ya",
		"ok", "okay", "alright", "right", "sure",
		"uh-huh", "mhm", "mm-hmm", "mm", "hmm", "uh", "um",
		"aha", "ah", "oh", "wow", "cool", "nice", "great",
		"true", "exactly", "totally", "indeed",
		"i see", "got it", "go on", "makes sense", "sounds good",
	}
}

// DefaultCommandWords returns the stock vocabulary that always takes the floor.
func DefaultCommandWords() []string {
	return []string{
		"stop", "wait", "pause", "no", "nope", "but", "actually",
		"cancel", "enough", "quiet", "listen", "what",
		"hold on", "hang on", "hold up", "excuse me", "sorry",
		"one second", "just a second", "shut up",
	}
}
