package main

// Version is the reactorwatch release version
const Version = "0.4.2"
