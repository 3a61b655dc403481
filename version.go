package worklet

const Version = "0.1.0"
